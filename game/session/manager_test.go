package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/wricardo/militia-relay/game/match"
)

// sequenceCodes returns the given codes in order, repeating the last one.
func sequenceCodes(codes ...string) CodeGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		code := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return code, nil
	}
}

func TestRandomCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := RandomCode()
		if err != nil {
			t.Fatalf("RandomCode failed: %v", err)
		}
		if !ValidCode(code) {
			t.Fatalf("Invalid code %q", code)
		}
		seen[code] = true
	}
	if len(seen) < 190 {
		t.Errorf("Expected mostly unique codes, got %d distinct of 200", len(seen))
	}
}

func TestValidCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"ABCD23", true},
		{"abcd23", false},
		{"ABCD2", false},
		{"ABCDI0", false},
		{"ABCD234", false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := ValidCode(tt.code); got != tt.want {
				t.Errorf("ValidCode(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestManager_CreateRoom(t *testing.T) {
	t.Run("codes are unique among live rooms", func(t *testing.T) {
		m := NewManager(WithCodeGenerator(sequenceCodes("ABCD23", "ABCD23", "WXYZ99")))

		first, err := m.CreateRoom("host-1", nil)
		if err != nil {
			t.Fatalf("CreateRoom failed: %v", err)
		}
		if first.Code != "ABCD23" {
			t.Errorf("Expected ABCD23, got %s", first.Code)
		}

		second, err := m.CreateRoom("host-2", nil)
		if err != nil {
			t.Fatalf("CreateRoom failed: %v", err)
		}
		if second.Code != "WXYZ99" {
			t.Errorf("Expected collision retry to yield WXYZ99, got %s", second.Code)
		}
		if m.Count() != 2 {
			t.Errorf("Expected 2 rooms, got %d", m.Count())
		}
	})

	t.Run("code space exhausted", func(t *testing.T) {
		m := NewManager(WithCodeGenerator(sequenceCodes("ABCD23")))
		if _, err := m.CreateRoom("host-1", nil); err != nil {
			t.Fatalf("CreateRoom failed: %v", err)
		}
		if _, err := m.CreateRoom("host-2", nil); !errors.Is(err, ErrCodeSpaceExhausted) {
			t.Errorf("Expected ErrCodeSpaceExhausted, got %v", err)
		}
	})

	t.Run("expired code can be reused", func(t *testing.T) {
		m := NewManager(WithCodeGenerator(sequenceCodes("ABCD23")))
		if _, err := m.CreateRoom("host-1", nil); err != nil {
			t.Fatalf("CreateRoom failed: %v", err)
		}
		if err := m.Expire("ABCD23"); err != nil {
			t.Fatalf("Expire failed: %v", err)
		}
		room, err := m.CreateRoom("host-2", nil)
		if err != nil {
			t.Fatalf("CreateRoom after expire failed: %v", err)
		}
		if room.Session.HostID() != "host-2" {
			t.Errorf("Expected new session for host-2, got %s", room.Session.HostID())
		}
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		m := NewManager()
		if _, err := m.CreateRoom("", nil); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState for empty host, got %v", err)
		}
		bad := match.DefaultRules()
		bad.MaxPlayers = 100
		if _, err := m.CreateRoom("host", bad); !errors.Is(err, match.ErrInvalidRules) {
			t.Errorf("Expected ErrInvalidRules, got %v", err)
		}
	})

	t.Run("waiting session owned by host", func(t *testing.T) {
		m := NewManager()
		room, err := m.CreateRoom("host-1", nil)
		if err != nil {
			t.Fatalf("CreateRoom failed: %v", err)
		}
		if !ValidCode(room.Code) {
			t.Errorf("Invalid code %q", room.Code)
		}
		if room.Session.Status() != StatusWaiting || room.Session.MemberCount() != 0 {
			t.Error("Expected an empty waiting session")
		}
		if room.MaxPlayers != match.DefaultPlayers {
			t.Errorf("Expected default capacity %d, got %d", match.DefaultPlayers, room.MaxPlayers)
		}
	})
}

func TestManager_Resolve(t *testing.T) {
	m := NewManager(WithCodeGenerator(sequenceCodes("ABCD23")))
	room, err := m.CreateRoom("host", nil)
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}

	tests := []struct {
		name    string
		code    string
		wantErr error
	}{
		{"exact", "ABCD23", nil},
		{"lower case", "abcd23", nil},
		{"padded", "  ABCD23 ", nil},
		{"unknown", "ZZZZ22", ErrRoomNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := m.Resolve(tt.code)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if s != room.Session {
				t.Error("Resolve returned a different session")
			}
		})
	}
}

func TestManager_Sweep(t *testing.T) {
	var expired []string
	m := NewManager(
		WithCodeGenerator(sequenceCodes("AAAA22", "BBBB33", "CCCC44")),
		WithOnExpire(func(code string) { expired = append(expired, code) }),
	)

	empty, _ := m.CreateRoom("h1", nil)
	busy, _ := m.CreateRoom("h2", nil)
	ended, _ := m.CreateRoom("h3", nil)

	now := time.Now()
	if _, err := busy.Session.Join("h2", "", now); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if _, err := ended.Session.Join("h3", "", now); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := ended.Session.End(match.EndClosed, "", now); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	if n := m.Sweep(now); n != 0 {
		t.Errorf("Nothing should expire yet, swept %d", n)
	}

	later := now.Add(DefaultEmptyGrace + DefaultEndedGrace)
	if n := m.Sweep(later); n != 2 {
		t.Errorf("Expected 2 rooms swept, got %d", n)
	}
	if _, err := m.Get(busy.Code); err != nil {
		t.Errorf("Occupied room must survive, got %v", err)
	}
	for _, code := range []string{empty.Code, ended.Code} {
		if _, err := m.Get(code); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Room %s should be gone, got %v", code, err)
		}
	}
	if len(expired) != 2 {
		t.Errorf("Expected OnExpire for 2 rooms, got %v", expired)
	}
}

func TestManager_RejoinCancelsEmptyTeardown(t *testing.T) {
	m := NewManager()
	room, _ := m.CreateRoom("host", nil)
	now := time.Now()

	if _, err := room.Session.Join("guest", "", now); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if err := room.Session.Leave("guest", now.Add(time.Second)); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if !room.Session.Expired(now.Add(time.Second + DefaultEmptyGrace)) {
		t.Fatal("Empty room should be due for teardown")
	}

	if _, err := room.Session.Join("guest", "", now.Add(10*time.Second)); err != nil {
		t.Fatalf("Rejoin failed: %v", err)
	}
	if n := m.Sweep(now.Add(time.Minute)); n != 0 {
		t.Errorf("Rejoined room must not be swept, got %d", n)
	}
}

func TestManager_ExpireIf(t *testing.T) {
	t.Run("rejoin before teardown keeps the room", func(t *testing.T) {
		m := NewManager()
		room, _ := m.CreateRoom("host", nil)
		due := room.CreatedAt.Add(DefaultEmptyGrace)

		// The sweeper has seen the room as expired, then the host joins.
		if !room.Session.Expired(due) {
			t.Fatal("Expected empty room to be due for teardown")
		}
		if _, err := room.Session.Join("host", "", due); err != nil {
			t.Fatalf("Join failed: %v", err)
		}

		removed, err := m.ExpireIf(room.Code, due)
		if err != nil {
			t.Fatalf("ExpireIf failed: %v", err)
		}
		if removed {
			t.Error("Room with a rejoined player must not be torn down")
		}
		if room.Session.Status() != StatusWaiting {
			t.Errorf("Expected session still waiting, got %s", room.Session.Status())
		}
	})

	t.Run("join after teardown is rejected", func(t *testing.T) {
		var expired []string
		m := NewManager(WithOnExpire(func(code string) { expired = append(expired, code) }))
		room, _ := m.CreateRoom("host", nil)
		due := room.CreatedAt.Add(DefaultEmptyGrace)

		removed, err := m.ExpireIf(room.Code, due)
		if err != nil || !removed {
			t.Fatalf("Expected room removed, got %v / %v", removed, err)
		}
		if _, err := room.Session.Join("host", "", due); !errors.Is(err, ErrSessionEnded) {
			t.Errorf("Expected ErrSessionEnded for a join on a torn down room, got %v", err)
		}
		if len(expired) != 1 {
			t.Errorf("Expected one OnExpire, got %v", expired)
		}
	})

	t.Run("unknown room", func(t *testing.T) {
		m := NewManager()
		if _, err := m.ExpireIf("ZZZZ22", time.Now()); !errors.Is(err, ErrRoomNotFound) {
			t.Errorf("Expected ErrRoomNotFound, got %v", err)
		}
	})
}

func TestManager_ExpireEndsRunningSession(t *testing.T) {
	rec := &recorder{}
	m := NewManager(WithPublisher(rec))
	room, _ := m.CreateRoom("host", nil)
	if _, err := room.Session.Join("host", "", time.Now()); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	if err := m.Expire(room.Code); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if room.Session.Status() != StatusEnded {
		t.Errorf("Expected session ended, got %s", room.Session.Status())
	}
	ended := rec.ofType(TypeMatchEnded)
	if len(ended) != 1 || ended[0].Message.(MatchEndedMessage).Reason != match.EndClosed {
		t.Errorf("Expected closed matchEnded, got %+v", ended)
	}
	if err := m.Expire(room.Code); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("Expected ErrRoomNotFound on second expire, got %v", err)
	}
}

func TestManager_TickLoop(t *testing.T) {
	rec := &recorder{}
	m := NewManager(WithPublisher(rec), WithTickInterval(5*time.Millisecond))
	defer m.Close()

	room, err := m.CreateRoom("host", nil)
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	if _, err := room.Session.Join("host", "", time.Now()); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.ofType(TypeSnapshot)) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Expected the tick loop to publish a snapshot")
}

func TestManager_ConcurrentCreate(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, 10*time.Millisecond)

	var wg sync.WaitGroup
	codes := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			room, err := m.CreateRoom("host", nil)
			if err != nil {
				t.Errorf("CreateRoom failed: %v", err)
				return
			}
			codes <- room.Code
		}()
	}
	wg.Wait()
	close(codes)

	seen := make(map[string]bool)
	for code := range codes {
		if seen[code] {
			t.Errorf("Duplicate live code %s", code)
		}
		seen[code] = true
	}
}
