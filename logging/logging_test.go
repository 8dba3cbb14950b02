package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"hm-binrpc/config"
)

func TestNew(t *testing.T) {
	cases := []struct {
		cfg  config.LoggingConfig
		want zapcore.Level
	}{
		{config.LoggingConfig{}, zapcore.InfoLevel},
		{config.LoggingConfig{Level: "debug"}, zapcore.DebugLevel},
		{config.LoggingConfig{Level: "warn", Development: true}, zapcore.WarnLevel},
	}
	for _, tc := range cases {
		logger, err := New(tc.cfg)
		if err != nil {
			t.Fatal(err)
		}
		if !logger.Core().Enabled(tc.want) {
			t.Fatalf("%+v: expect %s enabled", tc.cfg, tc.want)
		}
		if tc.want > zapcore.DebugLevel && logger.Core().Enabled(tc.want-1) {
			t.Fatalf("%+v: expect levels below %s disabled", tc.cfg, tc.want)
		}
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatal("expect error for unknown level")
	}
}
