package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemorySinkRecords(t *testing.T) {
	s := NewMemorySink()
	s.RecordMatch(MatchEvent{RoomID: "r1", Event: "started", VsBot: true, At: time.Now()})
	s.RecordMatch(MatchEvent{RoomID: "r1", Event: "ended", Winner: "p1", Reason: "fleet_sunk", At: time.Now()})
	s.RecordSecurity(SecurityEvent{ConnID: "c1", Kind: "soft_ban", At: time.Now()})

	match := s.MatchEvents()
	if len(match) != 2 {
		t.Fatalf("MatchEvents() has %d entries, expected 2", len(match))
	}
	if match[0].Event != "started" || match[1].Event != "ended" {
		t.Errorf("match events out of order: %s, %s", match[0].Event, match[1].Event)
	}
	if match[1].Winner != "p1" {
		t.Errorf("ended event winner = %q, expected p1", match[1].Winner)
	}
	sec := s.SecurityEvents()
	if len(sec) != 1 || sec[0].Kind != "soft_ban" {
		t.Errorf("SecurityEvents() = %+v, expected one soft_ban", sec)
	}

	// Accessors hand out copies.
	match[0].RoomID = "mutated"
	if s.MatchEvents()[0].RoomID != "r1" {
		t.Error("MatchEvents() exposed internal state")
	}
}

type fakePinger struct {
	name string
	err  error
	req  bool
}

func (p fakePinger) Name() string               { return p.name }
func (p fakePinger) Required() bool             { return p.req }
func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name    string
		pingers []Pinger
		ready   bool
	}{
		{
			name:  "no dependencies",
			ready: true,
		},
		{
			name: "optional failure stays ready",
			pingers: []Pinger{
				fakePinger{name: "redis", err: errors.New("down")},
				fakePinger{name: "postgres"},
			},
			ready: true,
		},
		{
			name: "required failure trips readiness",
			pingers: []Pinger{
				fakePinger{name: "redis", err: errors.New("down"), req: true},
			},
			ready: false,
		},
		{
			name: "required success",
			pingers: []Pinger{
				fakePinger{name: "redis", req: true},
				fakePinger{name: "postgres", req: true},
			},
			ready: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealth(100 * time.Millisecond)
			for _, p := range tt.pingers {
				h.Register(p)
			}
			statuses, ready := h.Check(context.Background())
			if ready != tt.ready {
				t.Errorf("Check() ready = %v, expected %v", ready, tt.ready)
			}
			if len(statuses) != len(tt.pingers) {
				t.Fatalf("Check() reported %d statuses, expected %d", len(statuses), len(tt.pingers))
			}
			for i, st := range statuses {
				wantOK := tt.pingers[i].(fakePinger).err == nil
				if st.OK != wantOK {
					t.Errorf("status[%d] OK = %v, expected %v", i, st.OK, wantOK)
				}
			}
		})
	}
}
