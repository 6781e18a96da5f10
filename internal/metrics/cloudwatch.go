package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"coinview/logger"
)

const (
	cloudWatchBuffer    = 256
	cloudWatchBatchSize = 20
	cloudWatchFlush     = 10 * time.Second
)

type metricPutter interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch batches numeric metrics and publishes them with PutMetricData.
type CloudWatch struct {
	client    metricPutter
	namespace string
	queue     chan cwtypes.MetricDatum
	flush     time.Duration
	log       *logger.Log
}

// NewCloudWatch loads the default AWS configuration for region and returns a
// publisher for namespace.
func NewCloudWatch(ctx context.Context, region, namespace string, log *logger.Log) (*CloudWatch, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	cw := newCloudWatch(cloudwatch.NewFromConfig(cfg), namespace, log)
	cw.log.WithComponent("cloudwatch").WithFields(logger.Fields{
		"region":    cfg.Region,
		"namespace": cw.namespace,
	}).Info("initialized CloudWatch client")
	return cw, nil
}

func newCloudWatch(client metricPutter, namespace string, log *logger.Log) *CloudWatch {
	if namespace == "" {
		namespace = "CoinView"
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		queue:     make(chan cwtypes.MetricDatum, cloudWatchBuffer),
		flush:     cloudWatchFlush,
		log:       log,
	}
}

// Handle is a MetricHandler. Non-numeric values are skipped and a full queue
// drops the datum.
func (c *CloudWatch) Handle(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		return
	}
	datum := toDatum(m, value)
	select {
	case c.queue <- datum:
	default:
		c.log.WithComponent("cloudwatch").WithFields(logger.Fields{"metric": m.Name}).Debug("cloudwatch queue full, dropping metric")
	}
}

// Run publishes queued metrics until ctx ends, then flushes what is left.
func (c *CloudWatch) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.flush)
	defer ticker.Stop()

	batch := make([]cwtypes.MetricDatum, 0, cloudWatchBatchSize)
	publish := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		c.publish(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case d := <-c.queue:
					batch = append(batch, d)
					if len(batch) == cloudWatchBatchSize {
						publish(context.Background())
					}
				default:
					publish(context.Background())
					return nil
				}
			}
		case d := <-c.queue:
			batch = append(batch, d)
			if len(batch) == cloudWatchBatchSize {
				publish(ctx)
			}
		case <-ticker.C:
			publish(ctx)
		}
	}
}

func (c *CloudWatch) publish(ctx context.Context, data []cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: append([]cwtypes.MetricDatum(nil), data...),
	}); err != nil {
		c.log.WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, d := range data {
		names = append(names, aws.ToString(d.MetricName))
	}
	c.log.WithComponent("cloudwatch").WithFields(logger.Fields{"metrics": strings.Join(names, ",")}).Debug("published metrics to CloudWatch")
}

func toDatum(m Metric, value float64) cwtypes.MetricDatum {
	unit := cwtypes.StandardUnitCount
	if u := stringField(m.Fields, "unit"); u != "" {
		unit = metricUnitFromString(u)
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	for k, v := range m.Fields {
		if k == "unit" {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return cwtypes.MetricDatum{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(ts),
	}
}

func metricUnitFromString(unit string) cwtypes.StandardUnit {
	switch strings.ToLower(unit) {
	case "percent":
		return cwtypes.StandardUnitPercent
	case "seconds":
		return cwtypes.StandardUnitSeconds
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds
	case "bytes":
		return cwtypes.StandardUnitBytes
	default:
		return cwtypes.StandardUnitCount
	}
}
