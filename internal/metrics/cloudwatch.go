package metrics

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"cryptosignal/logger"
)

// cloudWatchAPI is the subset of the CloudWatch client used for publishing.
type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

type cloudWatchState struct {
	client    cloudWatchAPI
	namespace string
	region    string
}

var (
	cwState atomic.Pointer[cloudWatchState]

	cloudWatchPublishInterval = 10 * time.Second
	timeNow                   = time.Now
	publishMetricsFunc        = publishMetrics

	lastPublishMu sync.Mutex
	lastPublish   = make(map[string]time.Time)
)

func init() {
	cwState.Store(&cloudWatchState{namespace: "CryptoSignal"})
}

// InitCloudWatch creates the CloudWatch client. When AWS configuration cannot
// be loaded a warning is logged and publishing stays disabled.
func InitCloudWatch(ctx context.Context, region, namespace string) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}
	if cfg.Region != "" {
		region = cfg.Region
	}
	useCloudWatch(cloudwatch.NewFromConfig(cfg), region, namespace)

	log.WithFields(logger.Fields{"region": region, "namespace": cwState.Load().namespace}).Info("initialized CloudWatch client")
}

func useCloudWatch(client cloudWatchAPI, region, namespace string) {
	state := cloudWatchState{client: client, region: region, namespace: "CryptoSignal"}
	if namespace != "" {
		state.namespace = namespace
	}
	cwState.Store(&state)
}

// EmitMetric logs the metric, hands it to registered handlers and publishes
// it to CloudWatch when configured. Publishing of the same metric series is
// throttled to one datum per publish interval.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	m, ok := recordMetric(log, component, metric, value, metricType, fields)
	if !ok {
		return
	}
	publishMetricDatum(m)
}

func publishMetricDatum(m Metric) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	series := []string{m.Component, m.Name}
	for k, v := range m.Fields {
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
			series = append(series, k+"="+s)
		}
	}
	if !allowPublish(strings.Join(series, "|")) {
		return
	}

	publishMetricsFunc(context.Background(), state, []cwtypes.MetricDatum{{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       metricUnit(m.Unit),
		Value:      aws.Float64(m.Value),
		Timestamp:  aws.Time(m.Timestamp),
	}})
}

// allowPublish reports whether a series may publish now and records the
// attempt when it may.
func allowPublish(series string) bool {
	now := timeNow()
	lastPublishMu.Lock()
	defer lastPublishMu.Unlock()
	if last, ok := lastPublish[series]; ok && now.Sub(last) < cloudWatchPublishInterval {
		return false
	}
	lastPublish[series] = now
	return true
}

func resetMetricPublishTimes() {
	lastPublishMu.Lock()
	lastPublish = make(map[string]time.Time)
	lastPublishMu.Unlock()
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if state == nil || state.client == nil || len(data) == 0 {
		return
	}
	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metrics")
	}
}

func metricUnit(unit string) cwtypes.StandardUnit {
	switch strings.ToLower(unit) {
	case "percent":
		return cwtypes.StandardUnitPercent
	case "seconds":
		return cwtypes.StandardUnitSeconds
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds
	case "bytes":
		return cwtypes.StandardUnitBytes
	case "none":
		return cwtypes.StandardUnitNone
	default:
		return cwtypes.StandardUnitCount
	}
}
