package gateway

import (
	"context"
	"math"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

const DefaultSampleInterval = time.Second

// Sampler stands in for the field bus poller: every interval it writes one
// synthetic reading per register to data.<device_id>, which a Peripheral
// streams to a subscribed controller.
type Sampler struct {
	handler  *Handler
	interval time.Duration
	start    time.Time
	log      *zap.Logger
}

func NewSampler(handler *Handler, interval time.Duration, log *zap.Logger) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Sampler{
		handler:  handler,
		interval: interval,
		start:    time.Now(),
		log:      log.Named("sampler"),
	}
}

// Run samples until ctx ends.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case now := <-ticker.C:
			s.Sample(ctx, now)
		}
	}
}

// Sample writes one reading for every register of every device.
func (s *Sampler) Sample(ctx context.Context, now time.Time) {
	elapsed := now.Sub(s.start).Milliseconds()

	s.handler.devices(ctx).ForEach(func(key, device gjson.Result) bool {
		deviceID := key.String()

		device.Get(keyRegisters).ForEach(func(_, reg gjson.Result) bool {
			point, err := dataPoint(elapsed, deviceID, reg)
			if err != nil {
				s.log.Warn("Failed to build data point", zap.String("device_id", deviceID), zap.Error(err))
				return true
			}

			if err := s.handler.Store().SetRaw(ctx, dataPath(deviceID), point); err != nil {
				s.log.Warn("Failed to store data point", zap.String("device_id", deviceID), zap.Error(err))
			}

			return true
		})

		return true
	})
}

func dataPoint(elapsed int64, deviceID string, reg gjson.Result) (out []byte, err error) {
	address := reg.Get("address").Int()

	// A slow wave per register keeps successive readings distinguishable.
	value := math.Round((50+50*math.Sin(float64(elapsed)/10000+float64(address)))*100) / 100

	fields := []struct {
		path  string
		value interface{}
	}{
		{"time", elapsed},
		{"name", reg.Get("register_name").String()},
		{"address", address},
		{"datatype", reg.Get("data_type").String()},
		{"value", value},
		{"device_id", deviceID},
		{"register_id", reg.Get("register_id").String()},
	}

	out = []byte(`{}`)
	for _, f := range fields {
		if out, err = sjson.SetBytes(out, f.path, f.value); err != nil {
			return nil, err
		}
	}

	return out, nil
}
