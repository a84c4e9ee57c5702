// Package stats keeps career statistics and the archive of finished matches.
//
// Every match that ended after being started produces a match.Result. The
// Recorder queues results and writes them to a Store, which archives the
// match and folds each scoreboard line into the player's career record:
//
//   - kills, deaths, games played and won, total playtime
//   - highest kill streak
//   - experience (10 per kill, 50 per win) and level (one per 100 XP)
//
// Guest identities (IDs starting with "guest-") are archived in the match
// but never get a career record.
//
// Two stores are provided. FileStore writes JSON files below a data
// directory and suits a single relay. RedisStore keeps players as JSON
// strings, leaderboards as sorted sets and matches as a capped list, and
// publishes each recorded match on a pub/sub channel so other services can
// follow results.
//
// RedisStore tests that need a server run only when REDIS_ADDR points at a
// Redis instance they may write to. They use a unique key prefix and delete
// their keys afterwards. Without REDIS_ADDR they skip, and only key naming
// and decoding are tested.
package stats
