// Package registry persists the catalog of locally available models: their
// files, download state, and per-model settings, shared across threads and
// across OS processes via a file lock.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/shaneholloman/goose-local-inference/internal/apperr"
)

// registryLockTimeout bounds how long a process waits for another
// process's hold on the registry lock file before giving up.
const registryLockTimeout = 5 * time.Second

// registryLockRetryInterval is how often a blocked waiter re-polls the
// lock file while waiting on registryLockTimeout.
const registryLockRetryInterval = 50 * time.Millisecond

// SamplingMode selects which sampling variant a model's settings describe.
type SamplingMode int

const (
	SamplingGreedy SamplingMode = iota
	SamplingTemperature
	SamplingMirostatV2
)

// ModelSettings holds the per-model generation configuration, with the
// package defaults matching the generation pipeline's documented defaults.
type ModelSettings struct {
	ContextSize      *int    `json:"context_size,omitempty"`
	MaxOutputTokens  *int    `json:"max_output_tokens,omitempty"`
	Sampling         SamplingMode `json:"sampling"`
	Temperature      float32 `json:"temperature"`
	TopK             int     `json:"top_k"`
	TopP             float32 `json:"top_p"`
	MinP             float32 `json:"min_p"`
	MirostatTau      float32 `json:"mirostat_tau,omitempty"`
	MirostatEta      float32 `json:"mirostat_eta,omitempty"`
	Seed             *uint32 `json:"seed,omitempty"`
	RepeatPenalty    float32 `json:"repeat_penalty"`
	RepeatLastN      int     `json:"repeat_last_n"`
	FrequencyPenalty float32 `json:"frequency_penalty"`
	PresencePenalty  float32 `json:"presence_penalty"`
	NBatch           *int    `json:"n_batch,omitempty"`
	NGPULayers       *int    `json:"n_gpu_layers,omitempty"`
	UseMlock         bool    `json:"use_mlock"`
	FlashAttention   *bool   `json:"flash_attention,omitempty"`
	NThreads         *int    `json:"n_threads,omitempty"`
	NativeToolCalling bool   `json:"native_tool_calling"`
	UseJinja          bool   `json:"use_jinja"`
}

// DefaultModelSettings returns the documented defaults: temperature 0.8,
// top_k 40, top_p 0.95, min_p 0.05, repeat_penalty 1.0, repeat_last_n 64,
// no native tools, no Jinja.
func DefaultModelSettings() ModelSettings {
	return ModelSettings{
		Sampling:      SamplingTemperature,
		Temperature:   0.8,
		TopK:          40,
		TopP:          0.95,
		MinP:          0.05,
		RepeatPenalty: 1.0,
		RepeatLastN:   64,
	}
}

// ModelEntry is the unit of the registry.
type ModelEntry struct {
	ID           string        `json:"id"`
	DisplayName  string        `json:"display_name"`
	RepoID       string        `json:"repo_id"`
	Filename     string        `json:"filename"`
	Quantization string        `json:"quantization"`
	LocalPath    string        `json:"local_path"`
	SourceURL    string        `json:"source_url"`
	SizeBytes    int64         `json:"size_bytes"`
	Settings     ModelSettings `json:"settings"`
}

// DownloadState enumerates the observed (not owned) download lifecycle.
type DownloadState int

const (
	NotDownloaded DownloadState = iota
	Downloading
	Downloaded
)

// DownloadStatus is derived from file existence and the download-manager
// collaborator; the registry never owns this state.
type DownloadStatus struct {
	State    DownloadState
	Percent  float64
	Bytes    int64
	Total    int64
	SpeedBps *float64
}

// DownloadTracker is the read-only interface into the (out-of-scope)
// download manager, keyed by "<model_id>-model".
type DownloadTracker interface {
	Status(progressKey string) (DownloadStatus, bool)
}

// HubResult and HubFile describe the shapes a remote-hub collaborator
// would return; no network implementation lives in this module.
type HubResult struct {
	RepoID      string
	DisplayName string
}

type HubFile struct {
	Filename     string
	Quantization string
	SizeBytes    int64
}

// HubClient is the read-only interface into the (out-of-scope) remote
// model hub.
type HubClient interface {
	Search(query string, limit int) ([]HubResult, error)
	ListRepoFiles(author, repo string) ([]HubFile, error)
}

// LocalModelRegistry is the persisted, process-and-thread-safe catalog of
// model entries.
type LocalModelRegistry struct {
	log  *zerolog.Logger
	path string
	lock *flock.Flock

	mu      sync.Mutex
	entries map[string]ModelEntry
}

// New constructs a registry bound to path (typically
// "<data dir>/models/registry.json"); the sidecar lock file is
// path+".lock".
func New(log *zerolog.Logger, path string) *LocalModelRegistry {
	return &LocalModelRegistry{
		log:     log,
		path:    path,
		lock:    flock.New(path + ".lock"),
		entries: make(map[string]ModelEntry),
	}
}

type registryFile struct {
	Entries []ModelEntry `json:"entries"`
}

// Load reads the registry file under a shared lock; a missing file yields
// an empty registry rather than an error. The loaded entries also replace
// the in-memory map.
func (r *LocalModelRegistry) Load() ([]ModelEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

func (r *LocalModelRegistry) loadLocked() ([]ModelEntry, error) {
	if err := r.acquireRLock(); err != nil {
		return nil, err
	}
	defer r.lock.Unlock()

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.entries = make(map[string]ModelEntry)
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Execf(err, "failed to read registry file %q", r.path)
	}

	var rf registryFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, apperr.Execf(err, "failed to parse registry file %q", r.path)
	}

	r.entries = make(map[string]ModelEntry, len(rf.Entries))
	for _, e := range rf.Entries {
		r.entries[e.ID] = e
	}
	return rf.Entries, nil
}

// Save writes the in-memory entries to a temp file in the registry's
// directory, then atomically renames into place, under an exclusive lock.
func (r *LocalModelRegistry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked()
}

func (r *LocalModelRegistry) saveLocked() error {
	if err := r.acquireLock(); err != nil {
		return err
	}
	defer r.lock.Unlock()

	entries := make([]ModelEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	data, err := json.MarshalIndent(registryFile{Entries: entries}, "", "  ")
	if err != nil {
		return apperr.Execf(err, "failed to marshal registry")
	}

	dir := filepath.Dir(r.path)
	tmp := filepath.Join(dir, fmt.Sprintf("registry.json.tmp-%d", os.Getpid()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apperr.Execf(err, "failed to write registry temp file")
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return apperr.Execf(err, "failed to rename registry temp file into place")
	}
	return nil
}

// acquireRLock acquires the shared lock, falling back to a bounded
// blocking wait when another process already holds it. A failed
// non-blocking acquire must never fall through to unlocked I/O.
func (r *LocalModelRegistry) acquireRLock() error {
	locked, err := r.lock.TryRLock()
	if err != nil {
		return apperr.Execf(err, "failed to acquire registry read lock")
	}
	if locked {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), registryLockTimeout)
	defer cancel()
	locked, err = r.lock.TryRLockContext(ctx, registryLockRetryInterval)
	if err != nil {
		return apperr.Execf(err, "failed to acquire registry read lock")
	}
	if !locked {
		return apperr.Execf(ctx.Err(), "timed out waiting for registry read lock held by another process")
	}
	return nil
}

// acquireLock is acquireRLock's exclusive-lock counterpart, used by
// saveLocked.
func (r *LocalModelRegistry) acquireLock() error {
	locked, err := r.lock.TryLock()
	if err != nil {
		return apperr.Execf(err, "failed to acquire registry write lock")
	}
	if locked {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), registryLockTimeout)
	defer cancel()
	locked, err = r.lock.TryLockContext(ctx, registryLockRetryInterval)
	if err != nil {
		return apperr.Execf(err, "failed to acquire registry write lock")
	}
	if !locked {
		return apperr.Execf(ctx.Err(), "timed out waiting for registry write lock held by another process")
	}
	return nil
}

// AddModel upserts e by ID and persists immediately.
func (r *LocalModelRegistry) AddModel(e ModelEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.ID] = e
	return r.saveLocked()
}

// RemoveModel deletes id and persists immediately.
func (r *LocalModelRegistry) RemoveModel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	return r.saveLocked()
}

// GetModel is a trivial lookup.
func (r *LocalModelRegistry) GetModel(id string) (ModelEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// GetModelSettings is a trivial lookup.
func (r *LocalModelRegistry) GetModelSettings(id string) (ModelSettings, bool) {
	e, ok := r.GetModel(id)
	if !ok {
		return ModelSettings{}, false
	}
	return e.Settings, true
}

// UpdateModelSettings persists immediately.
func (r *LocalModelRegistry) UpdateModelSettings(id string, s ModelSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return apperr.NotFoundf("model %q not found", id)
	}
	e.Settings = s
	r.entries[id] = e
	return r.saveLocked()
}

// SyncWithFeatured inserts any featured entry not already present, then
// retains only entries that are downloaded, currently downloading, or
// featured. A save failure here is logged and swallowed: the in-memory
// state is still correct for the running session.
func (r *LocalModelRegistry) SyncWithFeatured(featured []ModelEntry, tracker DownloadTracker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	featuredIDs := make(map[string]bool, len(featured))
	changed := false
	for _, f := range featured {
		featuredIDs[f.ID] = true
		if _, ok := r.entries[f.ID]; !ok {
			r.entries[f.ID] = f
			changed = true
		}
	}

	for id, e := range r.entries {
		if featuredIDs[id] {
			continue
		}
		if downloaded(e) || downloading(id, tracker) {
			continue
		}
		delete(r.entries, id)
		changed = true
	}

	if !changed {
		return nil
	}
	if err := r.saveLocked(); err != nil {
		r.log.Warn().Err(err).Msg("failed to persist registry after sync_with_featured; continuing with in-memory state")
		return nil
	}
	return nil
}

func downloaded(e ModelEntry) bool {
	if e.LocalPath == "" {
		return false
	}
	_, err := os.Stat(e.LocalPath)
	return err == nil
}

func downloading(id string, tracker DownloadTracker) bool {
	if tracker == nil {
		return false
	}
	status, ok := tracker.Status(id + "-model")
	return ok && status.State == Downloading
}
