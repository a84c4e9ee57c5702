// Package session implements the authoritative side of a multiplayer room.
//
// The package provides two types:
//
// Manager is the room registry. It hands out unique six-character room codes
// (see CodeAlphabet), maps codes to live sessions, and tears rooms down once
// they have been empty or ended for a grace period. Its lock covers only the
// code map.
//
// Session owns the players of one room. It validates movement reports,
// records shots, verifies hit claims against bullet trajectories, runs the
// match lifecycle (waiting, active, ended) and publishes events through a
// Publisher. A single mutex per session serializes every mutation, so
// sessions never contend with each other.
//
// Ticking:
//
// Tick advances respawn timers, reconnect grace and the match time limit, and
// then publishes one snapshot with the players that changed since the
// previous tick. A tick with no changes publishes nothing. Run drives Tick
// from a ticker and recovers panics, ending only the failing session.
//
// Usage:
//
//	mgr := session.NewManager(
//		session.WithPublisher(hub),
//		session.WithTickInterval(50*time.Millisecond),
//	)
//	room, err := mgr.CreateRoom("host-1", rules)
//	if err != nil {
//		return err
//	}
//	res, err := room.Session.Join("host-1", "Alice", time.Now())
//
// Errors are sentinel values (ErrRoomFull, ErrStaleUpdate, ...); use
// errors.Is to check them and RejectReason to turn them into wire reasons.
package session
