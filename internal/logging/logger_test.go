package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level   string
		want    zapcore.Level
		wantErr bool
	}{
		{level: "debug", want: zapcore.DebugLevel},
		{level: "info", want: zapcore.InfoLevel},
		{level: "warn", want: zapcore.WarnLevel},
		{level: "error", want: zapcore.ErrorLevel},
		{level: "verbose", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := ParseLevel(tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestInitialize_SilentByDefault(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if GetLogger().Core().Enabled(zapcore.ErrorLevel) {
		t.Error("logger should be a no-op when no level is configured")
	}
}

func TestInitialize_FromEnv(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "warn")

	if err := InitializeFromEnv(); err != nil {
		t.Fatalf("InitializeFromEnv() error = %v", err)
	}
	core := GetLogger().Core()
	if core.Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !core.Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestInitialize_UnknownLevel(t *testing.T) {
	if err := Initialize("loud"); err == nil {
		t.Error("Initialize() with unknown level should fail")
	}
}

func TestLogPublish_Fields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogPublish("dev1", "ota/dev1", "chunk", 3, 220)
	LogPublish("dev1", "ota/dev1", "size", 0, 4)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want 2", len(entries))
	}
	if _, ok := entries[0].ContextMap()["chunk"]; !ok {
		t.Error("chunk publish should carry a chunk field")
	}
	if _, ok := entries[1].ContextMap()["chunk"]; ok {
		t.Error("size publish should not carry a chunk field")
	}
}

func TestLogRawBytes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	LogRawBytes("chunk frame", []byte{0x00, 0x03, 'a', 'b', 'c'})
	if logs.Len() != 0 {
		t.Fatalf("LogRawBytes() logged %d entries at info level, want 0", logs.Len())
	}

	core, logs = observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))

	LogRawBytes("chunk frame", []byte{0x00, 0x03, 'a', 'b', 'c'})
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("LogRawBytes() logged %d entries at debug level, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["hex"] != "0003616263" {
		t.Errorf("hex = %v, want 0003616263", fields["hex"])
	}
	if fields["ascii"] != "..abc" {
		t.Errorf("ascii = %v, want ..abc", fields["ascii"])
	}
	if fields["length"] != int64(5) {
		t.Errorf("length = %v, want 5", fields["length"])
	}
}

func TestHexDump_Truncates(t *testing.T) {
	data := make([]byte, maxDumpBytes+10)
	got := hexDump(data)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("hexDump() of long input should end with ..., got %q", got)
	}
	if len(got) != maxDumpBytes*2+3 {
		t.Errorf("hexDump() length = %d, want %d", len(got), maxDumpBytes*2+3)
	}
}

func TestAsciiDump(t *testing.T) {
	if got := asciiDump([]byte{'o', 'k', 0x00, 0x7F}); got != "ok.." {
		t.Errorf("asciiDump() = %q, want %q", got, "ok..")
	}
}
