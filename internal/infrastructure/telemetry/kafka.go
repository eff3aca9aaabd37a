package telemetry

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// headerCarrier adapts kafka message headers to the propagation API.
// Header keys are matched case-insensitively.
type headerCarrier []kafka.Header

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (c *headerCarrier) Get(key string) string {
	if i := c.index(key); i >= 0 {
		return string((*c)[i].Value)
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	if i := c.index(key); i >= 0 {
		(*c)[i].Value = []byte(value)
		return
	}
	*c = append(*c, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(*c))
	for i, header := range *c {
		keys[i] = header.Key
	}
	return keys
}

func (c *headerCarrier) index(key string) int {
	for i, header := range *c {
		if strings.EqualFold(header.Key, key) {
			return i
		}
	}
	return -1
}

func InjectKafkaHeaders(ctx context.Context, headers *[]kafka.Header) {
	carrier := headerCarrier(*headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	*headers = carrier
}

func ExtractKafkaHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := headerCarrier(headers)
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}
