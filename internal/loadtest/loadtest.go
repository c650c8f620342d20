// Package loadtest exercises the reconciliation engine under concurrent
// client load.
//
// It seeds a database with groups, members, and notes, then simulates many
// clients running delta syncs and contended updates at once, reporting
// latency percentiles. Used by the nd bench command to validate that a
// deployment target sustains the expected sync rate.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/notedeck/notedeck/internal/changelog"
	"github.com/notedeck/notedeck/internal/engine"
	"github.com/notedeck/notedeck/internal/schema"
	"github.com/notedeck/notedeck/internal/store"
)

// Fixture is a populated database with an engine over it.
type Fixture struct {
	DB     *store.DB
	Engine engine.Engine

	Groups  []string
	Users   []string
	NoteIDs []string
}

// LatencyStats aggregates measured sync latencies.
type LatencyStats struct {
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration
	P95       time.Duration
	P99       time.Duration
	TotalOps  int
	Errors    int
	Conflicts int
}

// NewFixture creates a database at dbPath seeded with numGroups groups,
// usersPerGroup members each, and numNotes notes spread round-robin across
// the groups.
func NewFixture(dbPath string, numGroups, usersPerGroup, numNotes int) (*Fixture, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Widen the pool: the default is tuned for one server process, not for
	// hundreds of simulated clients.
	db.RawDB().SetMaxOpenConns(150)
	db.RawDB().SetMaxIdleConns(50)
	db.RawDB().SetConnMaxLifetime(10 * time.Minute)

	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	f := &Fixture{
		DB:     db,
		Engine: engine.New(db, db, changelog.New(db.RawDB()), log.New(io.Discard, "", 0)),
	}

	ctx := context.Background()
	for g := 0; g < numGroups; g++ {
		groupID := fmt.Sprintf("bench-g%03d", g)
		if err := db.CreateGroup(ctx, groupID, fmt.Sprintf("Bench group %d", g)); err != nil {
			_ = db.Close()
			return nil, err
		}
		f.Groups = append(f.Groups, groupID)

		for u := 0; u < usersPerGroup; u++ {
			userID := fmt.Sprintf("bench-u%03d-%03d", g, u)
			if err := db.AddMember(ctx, groupID, userID); err != nil {
				_ = db.Close()
				return nil, err
			}
			f.Users = append(f.Users, userID)
		}
	}

	for i := 0; i < numNotes; i++ {
		groupIdx := i % len(f.Groups)
		group := f.Groups[groupIdx]
		// The author must be a member of the note's group.
		author := f.Users[groupIdx*usersPerGroup+(i/len(f.Groups))%usersPerGroup]
		outcome := f.Engine.ApplyChange(ctx, author, schema.PendingChange{
			ID:     fmt.Sprintf("seed-%05d", i),
			Table:  schema.TableNotes,
			Action: schema.ActionCreate,
			Payload: map[string]any{
				"groupId": group,
				"title":   fmt.Sprintf("Bench note %d", i),
				"content": fmt.Sprintf("Seeded content for note %d", i),
			},
		})
		if outcome.Status != schema.StatusSuccess {
			_ = db.Close()
			return nil, fmt.Errorf("failed to seed note %d: %s", i, outcome.Error)
		}
		f.NoteIDs = append(f.NoteIDs, outcome.RecordID)
	}

	return f, nil
}

// Close releases the fixture's database.
func (f *Fixture) Close() error {
	return f.DB.Close()
}

// RunConcurrentSyncs simulates numClients clients each running syncsPerClient
// full delta syncs concurrently and returns the latency distribution.
func (f *Fixture) RunConcurrentSyncs(numClients, syncsPerClient int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var durations []time.Duration
	var errorCount int

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			ctx := context.Background()
			user := f.Users[clientID%len(f.Users)]

			token := ""
			local := make([]time.Duration, 0, syncsPerClient)
			failures := 0

			for j := 0; j < syncsPerClient; j++ {
				start := time.Now()
				result, err := f.Engine.ProcessDeltaSync(ctx, user, engine.DeltaSyncRequest{
					SyncToken: token,
				})
				local = append(local, time.Since(start))

				if err != nil {
					failures++
					continue
				}
				token = result.SyncToken
			}

			mu.Lock()
			durations = append(durations, local...)
			errorCount += failures
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(durations) == 0 {
		return nil, fmt.Errorf("no syncs completed")
	}

	stats := computeStats(durations)
	stats.Errors = errorCount
	return stats, nil
}

// RunContendedUpdates has numWriters clients hammer updates at a small set
// of shared notes. Every writer submits stale-but-rebased edits, so the run
// doubles as a correctness probe: after it completes, every touched note's
// version must equal 1 plus its applied update count.
func (f *Fixture) RunContendedUpdates(numWriters, updatesPerWriter int) (*LatencyStats, error) {
	if len(f.NoteIDs) == 0 {
		return nil, fmt.Errorf("fixture has no notes")
	}

	// Contend on a handful of notes to force version races.
	hotNotes := f.NoteIDs
	if len(hotNotes) > 5 {
		hotNotes = hotNotes[:5]
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var durations []time.Duration
	applied := make(map[string]int64, len(hotNotes))
	var errorCount, conflictCount int

	for i := 0; i < numWriters; i++ {
		wg.Add(1)
		go func(writerID int) {
			defer wg.Done()
			ctx := context.Background()
			rng := rand.New(rand.NewSource(int64(writerID)))

			for j := 0; j < updatesPerWriter; j++ {
				noteID := hotNotes[rng.Intn(len(hotNotes))]

				// Look up the group to pick a member who can write it.
				rec, err := f.DB.Get(ctx, schema.TableNotes, noteID)
				if err != nil {
					mu.Lock()
					errorCount++
					mu.Unlock()
					continue
				}
				user := f.userInGroup(rec.GroupID)
				version := rec.Version

				start := time.Now()
				outcome := f.Engine.ApplyChange(ctx, user, schema.PendingChange{
					ID:            fmt.Sprintf("bench-w%d-%d", writerID, j),
					Table:         schema.TableNotes,
					RecordID:      noteID,
					Action:        schema.ActionUpdate,
					ClientVersion: &version,
					Payload: map[string]any{
						"content": fmt.Sprintf("writer %d pass %d", writerID, j),
					},
				})
				elapsed := time.Since(start)

				mu.Lock()
				durations = append(durations, elapsed)
				switch outcome.Status {
				case schema.StatusSuccess:
					applied[noteID]++
				case schema.StatusConflict:
					conflictCount++
				default:
					errorCount++
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// Correctness check: versions advanced by exactly the applied count.
	ctx := context.Background()
	for noteID, count := range applied {
		rec, err := f.DB.Get(ctx, schema.TableNotes, noteID)
		if err != nil {
			return nil, fmt.Errorf("failed to verify note %s: %w", noteID, err)
		}
		if rec.Version != count+1 {
			return nil, fmt.Errorf("note %s version = %d after %d applied updates, want %d",
				noteID, rec.Version, count, count+1)
		}
	}

	stats := computeStats(durations)
	stats.Errors = errorCount
	stats.Conflicts = conflictCount
	return stats, nil
}

// userInGroup returns a seeded member of the given group.
func (f *Fixture) userInGroup(groupID string) string {
	for i, g := range f.Groups {
		if g == groupID {
			// Users are seeded round-robin per group; the first member of
			// group i sits at i*usersPerGroup.
			return f.Users[i*(len(f.Users)/len(f.Groups))]
		}
	}
	return ""
}

// computeStats builds a LatencyStats from raw samples.
func computeStats(durations []time.Duration) *LatencyStats {
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:      sorted[0],
		Max:      sorted[len(sorted)-1],
		Mean:     sum / time.Duration(len(sorted)),
		P50:      sorted[len(sorted)*50/100],
		P95:      sorted[len(sorted)*95/100],
		P99:      sorted[len(sorted)*99/100],
		TotalOps: len(sorted),
	}
}

// Format renders the stats as aligned lines for terminal output.
func (s *LatencyStats) Format() string {
	out := fmt.Sprintf("  Operations: %d\n", s.TotalOps)
	out += fmt.Sprintf("  Errors:     %d\n", s.Errors)
	if s.Conflicts > 0 {
		out += fmt.Sprintf("  Conflicts:  %d\n", s.Conflicts)
	}
	out += fmt.Sprintf("  Min:        %v\n", s.Min)
	out += fmt.Sprintf("  P50:        %v\n", s.P50)
	out += fmt.Sprintf("  Mean:       %v\n", s.Mean)
	out += fmt.Sprintf("  P95:        %v\n", s.P95)
	out += fmt.Sprintf("  P99:        %v\n", s.P99)
	out += fmt.Sprintf("  Max:        %v\n", s.Max)
	return out
}
