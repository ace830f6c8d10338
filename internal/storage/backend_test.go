package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/yndnr/authpersist/internal/core/domain"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string is quoted", "LOCAL", `"LOCAL"`},
		{"map", map[string]int{"a": 1}, `{"a":1}`},
		{"raw json kept", json.RawMessage(`{"uid":"u"}`), `{"uid":"u"}`},
		{"value compacted", Value("{ \"a\" : [1, 2] }"), `{"a":[1,2]}`},
		{"raw string not double encoded", json.RawMessage(`"LOCAL"`), `"LOCAL"`},
		{"nil raw", json.RawMessage(nil), `null`},
		{"number", 42, `42`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.value)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Encode() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncode_InvalidRaw(t *testing.T) {
	_, err := Encode(json.RawMessage(`{"broken"`))
	if !errors.Is(err, domain.ErrMalformedValue) {
		t.Errorf("Encode() error = %v, want ErrMalformedValue", err)
	}
	_, err = Encode(make(chan int))
	if !errors.Is(err, domain.ErrMalformedValue) {
		t.Errorf("Encode(chan) error = %v, want ErrMalformedValue", err)
	}
}

func TestValue_Decode(t *testing.T) {
	var s string
	if err := Value(`"SESSION"`).Decode(&s); err != nil || s != "SESSION" {
		t.Errorf("Decode() = (%q, %v)", s, err)
	}
	if err := Value(nil).Decode(&s); !errors.Is(err, domain.ErrMalformedValue) {
		t.Errorf("Decode(nil) error = %v", err)
	}
	if Value(nil).String() != "null" {
		t.Errorf("String() of nil = %q", Value(nil).String())
	}
}

type probeStub struct {
	setErr    error
	removeErr error
	panicOn   string
	removed   bool
}

func (p *probeStub) Set(_ context.Context, key string, _ any) error {
	if p.panicOn == "set" {
		panic("quota")
	}
	if key != ProbeKey {
		return errors.New("unexpected key")
	}
	return p.setErr
}

func (p *probeStub) Remove(_ context.Context, key string) error {
	p.removed = key == ProbeKey
	return p.removeErr
}

func TestProbe(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		stub *probeStub
		want bool
	}{
		{"healthy", &probeStub{}, true},
		{"set fails", &probeStub{setErr: errors.New("denied")}, false},
		{"remove fails", &probeStub{removeErr: errors.New("denied")}, false},
		{"set panics", &probeStub{panicOn: "set"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Probe(ctx, tt.stub); got != tt.want {
				t.Errorf("Probe() = %v, want %v", got, tt.want)
			}
		})
	}
}
