package metric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdk "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/lopezpalacios/recurring-commitment/common"
	"github.com/lopezpalacios/recurring-commitment/models"
)

var _ models.MetricService = &OtelMetricService{}

const (
	queueUnprocessedName = "queue_messages_unprocessed"
	queueInFlightName    = "queue_messages_in_flight"
)

// OtelMetricService records ledger metrics through the OpenTelemetry SDK. Instruments are created on first use and
// cached by name.
type OtelMetricService struct {
	provider *sdk.MeterProvider
	meter    metric.Meter
	logger   models.Logger

	mu               sync.Mutex
	counters         map[models.MetricName]metric.Int64Counter
	histograms       map[models.MetricName]metric.Int64Histogram
	queueUnprocessed metric.Int64ObservableGauge
	queueInFlight    metric.Int64ObservableGauge
}

// NewMetricService exports over OTLP/HTTP when endpoint is set, the exporter reads the endpoint from the standard
// OTEL_EXPORTER_OTLP_METRICS_ENDPOINT variable itself. Without an endpoint metrics are written to stdout.
func NewMetricService(ctx context.Context, logger models.Logger, endpoint string, interval time.Duration) (*OtelMetricService, error) {
	var exporter sdk.Exporter
	var err error
	if len(endpoint) > 0 {
		exporter, err = otlpmetrichttp.New(ctx)
	} else {
		logger.Infof("metrics: no collector endpoint configured, writing to stdout")
		exporter, err = stdoutmetric.New()
	}
	if err != nil {
		return nil, fmt.Errorf("metrics: error creating exporter: %w", err)
	}
	return NewMetricServiceWithReader(logger, sdk.NewPeriodicReader(exporter, sdk.WithInterval(interval))), nil
}

func NewMetricServiceWithReader(logger models.Logger, reader sdk.Reader) *OtelMetricService {
	provider := sdk.NewMeterProvider(
		sdk.WithReader(reader),
		sdk.WithResource(resource.NewSchemaless(attribute.String("service.name", common.ServiceName))),
	)
	return &OtelMetricService{
		provider:   provider,
		meter:      provider.Meter(models.MetricsCallerName),
		logger:     logger,
		counters:   make(map[models.MetricName]metric.Int64Counter),
		histograms: make(map[models.MetricName]metric.Int64Histogram),
	}
}

func (o *OtelMetricService) Count(ctx context.Context, name models.MetricName, val int) error {
	if counter, err := o.counter(name); err != nil {
		return err
	} else {
		counter.Add(ctx, int64(val))
		return nil
	}
}

func (o *OtelMetricService) Distribution(ctx context.Context, name models.MetricName, val int) error {
	if histogram, err := o.histogram(name); err != nil {
		return err
	} else {
		histogram.Record(ctx, int64(val))
		return nil
	}
}

// Gauge registers monitor to be read at every collection.
func (o *OtelMetricService) Gauge(_ context.Context, name models.MetricName, monitor models.ResourceMonitor) error {
	_, err := o.meter.Int64ObservableGauge(string(name), metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
		if value, err := monitor.GetValue(ctx); err != nil {
			o.logger.Warnf("metrics: error reading %s: %v", name, err)
			return err
		} else {
			observer.Observe(int64(value))
			return nil
		}
	}))
	if err != nil {
		return fmt.Errorf("metrics: error creating %s gauge: %w", name, err)
	}
	return nil
}

// QueueGauge reports the waiting and in-flight message counts of a queue, labeled with queueName.
func (o *OtelMetricService) QueueGauge(_ context.Context, queueName string, monitor models.QueueMonitor) error {
	unprocessed, inFlight, err := o.queueGauges()
	if err != nil {
		return err
	}
	attrs := metric.WithAttributes(attribute.String("queue", queueName))
	_, err = o.meter.RegisterCallback(func(ctx context.Context, observer metric.Observer) error {
		if numUnprocessed, numInFlight, err := monitor.GetUtilization(ctx); err != nil {
			o.logger.Warnf("metrics: error reading utilization of %s: %v", queueName, err)
			return err
		} else {
			observer.ObserveInt64(unprocessed, int64(numUnprocessed), attrs)
			observer.ObserveInt64(inFlight, int64(numInFlight), attrs)
			return nil
		}
	}, unprocessed, inFlight)
	if err != nil {
		return fmt.Errorf("metrics: error registering %s queue gauges: %w", queueName, err)
	}
	return nil
}

func (o *OtelMetricService) Shutdown(ctx context.Context) {
	if err := o.provider.Shutdown(ctx); err != nil {
		o.logger.Errorf("metrics: error shutting down: %v", err)
	}
}

func (o *OtelMetricService) counter(name models.MetricName) (metric.Int64Counter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if counter, found := o.counters[name]; found {
		return counter, nil
	}
	counter, err := o.meter.Int64Counter(string(name))
	if err != nil {
		return nil, fmt.Errorf("metrics: error creating %s counter: %w", name, err)
	}
	o.counters[name] = counter
	return counter, nil
}

func (o *OtelMetricService) histogram(name models.MetricName) (metric.Int64Histogram, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if histogram, found := o.histograms[name]; found {
		return histogram, nil
	}
	histogram, err := o.meter.Int64Histogram(string(name))
	if err != nil {
		return nil, fmt.Errorf("metrics: error creating %s histogram: %w", name, err)
	}
	o.histograms[name] = histogram
	return histogram, nil
}

func (o *OtelMetricService) queueGauges() (metric.Int64ObservableGauge, metric.Int64ObservableGauge, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.queueUnprocessed == nil {
		unprocessed, err := o.meter.Int64ObservableGauge(queueUnprocessedName)
		if err != nil {
			return nil, nil, fmt.Errorf("metrics: error creating queue gauge: %w", err)
		}
		inFlight, err := o.meter.Int64ObservableGauge(queueInFlightName)
		if err != nil {
			return nil, nil, fmt.Errorf("metrics: error creating queue gauge: %w", err)
		}
		o.queueUnprocessed, o.queueInFlight = unprocessed, inFlight
	}
	return o.queueUnprocessed, o.queueInFlight, nil
}
