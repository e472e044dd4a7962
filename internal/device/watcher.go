package device

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-live-interpreter/internal/session"
	"github.com/Raikerian/go-live-interpreter/pkg/util"
)

// Lister rescans the available devices.
type Lister interface {
	Rescan() ([]Info, error)
}

// SettingsStore holds the device selection.
type SettingsStore interface {
	Settings() session.Settings
	UpdateSettings(ctx context.Context, s session.Settings) error
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Interval          time.Duration
	Debounce          time.Duration
	PreferredKeywords []string
}

// Watcher polls the device list. When it changes, and once the changes
// settle, the input selection is reconciled so a vanished microphone is
// replaced and an empty selection picks the preferred one.
type Watcher struct {
	logger *zap.Logger
	lister Lister
	store  SettingsStore
	cfg    WatcherConfig

	debouncer *util.Debouncer

	mu   sync.Mutex
	last string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a Watcher.
func NewWatcher(logger *zap.Logger, lister Lister, store SettingsStore, cfg WatcherConfig) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if len(cfg.PreferredKeywords) == 0 {
		cfg.PreferredKeywords = DefaultPreferredKeywords
	}

	w := &Watcher{
		logger: logger,
		lister: lister,
		store:  store,
		cfg:    cfg,
	}
	w.debouncer = util.NewDebouncer(cfg.Debounce, w.Reconcile)
	return w
}

// Start reconciles once and then polls until Stop.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.Reconcile()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Poll()
			}
		}
	}()
}

// Stop ends polling and cancels a pending reconciliation.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.debouncer.Stop()
}

// Poll rescans once and schedules a reconciliation if the list changed.
func (w *Watcher) Poll() {
	devices, err := w.lister.Rescan()
	if err != nil {
		w.logger.Warn("Failed to rescan audio devices", zap.Error(err))
		return
	}

	fp := fingerprint(devices)

	w.mu.Lock()
	changed := fp != w.last
	w.last = fp
	w.mu.Unlock()

	if changed {
		w.logger.Debug("Audio devices changed", zap.Int("devices", len(devices)))
		w.debouncer.Trigger()
	}
}

// Reconcile applies the preferred input when the current one is unset or gone.
func (w *Watcher) Reconcile() {
	devices, err := w.lister.Rescan()
	if err != nil {
		w.logger.Warn("Failed to list audio devices", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.last = fingerprint(devices)
	w.mu.Unlock()

	settings := w.store.Settings()
	id, changed := Reconcile(settings.InputDevice, Filter(devices, KindInput), w.cfg.PreferredKeywords)
	if !changed {
		return
	}

	w.logger.Info("Selecting input device",
		zap.String("previous", settings.InputDevice),
		zap.String("selected", id))

	settings.InputDevice = id
	if err := w.store.UpdateSettings(context.Background(), settings); err != nil {
		w.logger.Error("Failed to apply input device", zap.Error(err))
	}
}
