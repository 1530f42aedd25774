// Package cleanup runs the recurring maintenance jobs: TTL expiry,
// near-duplicate consolidation, and importance decay. Jobs are cron
// entries with at most one run in flight per job.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/entrained/engram/pkg/memory"
	"github.com/entrained/engram/pkg/store"
)

const consolidationThreshold = 0.95

// Config holds the cron specs and decay tuning.
type Config struct {
	DailySpec   string  // expiry; default 02:00
	WeeklySpec  string  // consolidation; default Sun 03:00
	MonthlySpec string  // decay; default 1st 04:00
	DecayLambda float64 // per-day decay rate
}

func (c *Config) applyDefaults() {
	if c.DailySpec == "" {
		c.DailySpec = "0 2 * * *"
	}
	if c.WeeklySpec == "" {
		c.WeeklySpec = "0 3 * * 0"
	}
	if c.MonthlySpec == "" {
		c.MonthlySpec = "0 4 1 * *"
	}
	if c.DecayLambda == 0 {
		c.DecayLambda = 0.01
	}
}

// Summary is the journal entry of one job run.
type Summary struct {
	Deleted int `json:"deleted"`
	Merged  int `json:"merged"`
	Demoted int `json:"demoted"`
}

// Scheduler owns the cron runner. Create with New, then Start.
type Scheduler struct {
	store      store.Store
	invalidate func(id string)
	config     Config
	cron       *cron.Cron
	logger     *slog.Logger
}

// New creates a scheduler. invalidate is called for every memory the jobs
// delete or rewrite, so callers can drop cache entries; nil is allowed.
func New(s store.Store, invalidate func(id string), config Config) *Scheduler {
	config.applyDefaults()
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &Scheduler{
		store:      s,
		invalidate: invalidate,
		config:     config,
		logger:     slog.Default().With("component", "cleanup"),
	}
}

// Start registers the three jobs and begins the cron loop.
func (s *Scheduler) Start() error {
	runner := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DefaultLogger),
	))
	jobs := []struct {
		spec string
		name string
		run  func(context.Context) (Summary, error)
	}{
		{s.config.DailySpec, "expiry", s.RunExpiry},
		{s.config.WeeklySpec, "consolidation", s.RunConsolidation},
		{s.config.MonthlySpec, "decay", s.RunDecay},
	}
	for _, job := range jobs {
		job := job
		if _, err := runner.AddFunc(job.spec, func() {
			summary, err := job.run(context.Background())
			if err != nil {
				s.logger.Error("cleanup job failed", "job", job.name, "error", err)
				return
			}
			s.logger.Info("cleanup job finished", "job", job.name,
				"deleted", summary.Deleted, "merged", summary.Merged, "demoted", summary.Demoted)
		}); err != nil {
			return fmt.Errorf("register %s job: %w", job.name, err)
		}
	}
	s.cron = runner
	runner.Start()
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunExpiry deletes every memory whose retention TTL has passed.
func (s *Scheduler) RunExpiry(ctx context.Context) (Summary, error) {
	var summary Summary
	ids, err := s.store.ExpiredBefore(ctx, memory.Now())
	if err != nil {
		return summary, err
	}
	for _, id := range ids {
		if err := s.store.Delete(ctx, id); err != nil {
			s.logger.Warn("failed to delete expired memory", "memory_id", id, "error", err)
			continue
		}
		s.invalidate(id)
		summary.Deleted++
	}
	return summary, nil
}

// RunConsolidation merges near-duplicate memories. Candidates must have
// cosine similarity above the threshold and identical witness sets; the
// merged record keeps the earlier memory's ID, concatenated content, the
// higher confidence, and the earlier timestamp.
func (s *Scheduler) RunConsolidation(ctx context.Context) (Summary, error) {
	var summary Summary

	// Group by witness-set identity so only same-audience memories merge.
	groups := make(map[string][]*memory.Memory)
	err := s.store.ScanAll(ctx, func(m *memory.Memory) error {
		_, normalised := memory.NormalizeWitnesses(m.WitnessedBy)
		sort.Strings(normalised)
		key := strings.Join(normalised, ",")
		groups[key] = append(groups[key], m)
		return nil
	})
	if err != nil {
		return summary, err
	}

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.Before(group[j].CreatedAt.Time)
		})
		merged := make(map[string]bool)
		for i := 0; i < len(group); i++ {
			if merged[group[i].ID] {
				continue
			}
			survivor := group[i]
			changed := false
			for j := i + 1; j < len(group); j++ {
				dup := group[j]
				if merged[dup.ID] {
					continue
				}
				if store.CosineSimilarity(survivor.Vector, dup.Vector) <= consolidationThreshold {
					continue
				}
				survivor.Content.Text = survivor.Content.Text + "\n" + dup.Content.Text
				if dup.Metadata.Confidence > survivor.Metadata.Confidence {
					survivor.Metadata.Confidence = dup.Metadata.Confidence
				}
				if dup.Metadata.Timestamp.Before(survivor.Metadata.Timestamp.Time) {
					survivor.Metadata.Timestamp = dup.Metadata.Timestamp
				}
				if err := s.store.Delete(ctx, dup.ID); err != nil {
					s.logger.Warn("failed to delete merged duplicate", "memory_id", dup.ID, "error", err)
					continue
				}
				merged[dup.ID] = true
				s.invalidate(dup.ID)
				changed = true
				summary.Merged++
			}
			if changed {
				if err := s.store.Update(ctx, survivor); err != nil {
					s.logger.Warn("failed to update consolidated memory", "memory_id", survivor.ID, "error", err)
					continue
				}
				s.invalidate(survivor.ID)
			}
		}
	}
	return summary, nil
}

// RunDecay renormalises importance according to each memory's decay
// function.
func (s *Scheduler) RunDecay(ctx context.Context) (Summary, error) {
	var summary Summary
	now := time.Now()
	var demote []*memory.Memory
	err := s.store.ScanAll(ctx, func(m *memory.Memory) error {
		if m.Retention == nil {
			return nil
		}
		ageDays := now.Sub(m.CreatedAt.Time).Hours() / 24
		if ageDays <= 0 {
			return nil
		}
		decayed := m.Metadata.Importance
		switch m.Retention.DecayFunction {
		case memory.DecayLogarithmic:
			decayed = m.Metadata.Importance * math.Exp(-s.config.DecayLambda*ageDays)
		case memory.DecayLinear:
			decayed = m.Metadata.Importance - s.config.DecayLambda*ageDays
			if decayed < 0 {
				decayed = 0
			}
		default:
			return nil
		}
		if decayed != m.Metadata.Importance {
			m.Metadata.Importance = decayed
			demote = append(demote, m)
		}
		return nil
	})
	if err != nil {
		return summary, err
	}
	for _, m := range demote {
		if err := s.store.Update(ctx, m); err != nil {
			s.logger.Warn("failed to demote memory", "memory_id", m.ID, "error", err)
			continue
		}
		s.invalidate(m.ID)
		summary.Demoted++
	}
	return summary, nil
}
