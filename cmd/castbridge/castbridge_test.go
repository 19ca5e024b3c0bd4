package main

import (
	"io"
	"testing"

	"go2tv.app/castbridge/internal/config"
)

func TestApplyFlags(t *testing.T) {
	conf := config.Default()
	conf.Device.Address = "10.0.0.5"

	*namePtr = "Kitchen"
	*kafkaArg = "k1:9092,k2:9092"
	*topicArg = "cast"
	*webhookArg = "http://localhost/hook"
	t.Cleanup(func() {
		*namePtr, *kafkaArg, *topicArg, *webhookArg = "", "", "", ""
	})

	applyFlags(conf)

	if conf.Device.Name != "Kitchen" || conf.Device.Address != "" {
		t.Fatalf("device = %+v, want name lookup without address", conf.Device)
	}
	if len(conf.Sinks.Kafka.Brokers) != 2 || conf.Sinks.Kafka.Topic != "cast" {
		t.Fatalf("kafka = %+v", conf.Sinks.Kafka)
	}
	if conf.Sinks.Webhook.URL != "http://localhost/hook" {
		t.Fatalf("webhook url = %q", conf.Sinks.Webhook.URL)
	}
}

func TestResolveDevice(t *testing.T) {
	conf := config.Default()
	if _, err := resolveDevice(conf); err != ErrNoDevice {
		t.Fatalf("resolveDevice() error = %v, want ErrNoDevice", err)
	}

	conf.Device.Address = "192.168.1.20:8009"
	got, err := resolveDevice(conf)
	if err != nil {
		t.Fatalf("resolveDevice() error = %v", err)
	}
	if got != "192.168.1.20:8009" {
		t.Fatalf("resolveDevice() = %q", got)
	}
}

func TestBuildSinks(t *testing.T) {
	conf := config.Default()
	conf.Sinks.Webhook.URL = "http://127.0.0.1:1/hook"

	sinks, err := buildSinks(conf, newLogger(io.Discard, "error"))
	if err != nil {
		t.Fatalf("buildSinks() error = %v", err)
	}
	t.Cleanup(func() { _ = sinks.Close() })

	if len(sinks) != 2 {
		t.Fatalf("len(sinks) = %d, want stdout and webhook", len(sinks))
	}
}
