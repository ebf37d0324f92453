package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tabula/internal/blob"
	"github.com/ternarybob/tabula/internal/common"
	"github.com/ternarybob/tabula/internal/handlers"
	"github.com/ternarybob/tabula/internal/interfaces"
	"github.com/ternarybob/tabula/internal/pipeline"
	"github.com/ternarybob/tabula/internal/queue"
	"github.com/ternarybob/tabula/internal/scheduler"
	badgerstorage "github.com/ternarybob/tabula/internal/storage/badger"

	"github.com/ternarybob/tabula/internal/services/convert"
	"github.com/ternarybob/tabula/internal/services/documents"
	"github.com/ternarybob/tabula/internal/services/indexer"
	"github.com/ternarybob/tabula/internal/services/ocr"
	"github.com/ternarybob/tabula/internal/services/transcribe"
	"github.com/ternarybob/tabula/internal/services/translate"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	BlobStore      interfaces.BlobStore
	TaskQueue      interfaces.TaskQueue

	Pipeline        *pipeline.Pipeline
	DocumentService *documents.Service
	Scheduler       *scheduler.Scheduler

	// HTTP handlers
	ProcessHandler  *handlers.ProcessHandler
	QueueHandler    *handlers.QueueHandler
	StatusHandler   *handlers.StatusHandler
	DocumentHandler *handlers.DocumentHandler
}

// New wires storage, the blob store, the queue, the pipeline services and
// the scheduler together.
func New(ctx context.Context, cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.initServices(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.initHandlers()

	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	manager, err := badgerstorage.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("init document storage: %w", err)
	}
	a.StorageManager = manager

	var remote interfaces.ObjectStore
	if a.Config.Blob.Endpoint != "" {
		remote, err = blob.NewMinioStore(ctx, &a.Config.Blob, a.Logger)
		if err != nil {
			return fmt.Errorf("init remote blob store: %w", err)
		}
	} else {
		a.Logger.Warn().Msg("No blob endpoint configured, remote mirroring disabled")
	}

	a.BlobStore, err = blob.NewStore(a.Config.Blob.CacheDir, a.Config.Blob.KeyPrefix, remote, a.Logger)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	a.TaskQueue, err = queue.NewBadgerQueue(manager.DB(), a.Config.Queue.Name, manager.KVStorage(), a.Logger)
	if err != nil {
		return fmt.Errorf("init task queue: %w", err)
	}
	return nil
}

func (a *App) initServices(ctx context.Context) error {
	translator, err := translate.NewService(ctx, a.Config.Translation, a.Logger)
	if err != nil {
		return fmt.Errorf("init translation service: %w", err)
	}

	docStorage := a.StorageManager.DocumentStorage()

	a.Pipeline = pipeline.New(
		docStorage,
		a.BlobStore,
		ocr.NewService(a.Config.OCR, a.Logger),
		translator,
		transcribe.NewService(a.Config.Transcription, a.Logger),
		convert.NewService(a.Config.Pipeline, a.Logger),
		indexer.NewService(a.Config.Indexer, a.Logger),
		a.Logger,
	)

	a.DocumentService = documents.NewService(docStorage, a.BlobStore, a.TaskQueue, a.Logger)

	leaseTTL := common.Duration(a.Config.Queue.LeaseTTL, 10*time.Minute)
	a.Scheduler, err = scheduler.New(a.Config.Scheduler, leaseTTL, docStorage, a.TaskQueue, a.Pipeline, a.Logger)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}
	return nil
}

func (a *App) initHandlers() {
	a.ProcessHandler = handlers.NewProcessHandler(a.DocumentService, a.Pipeline, a.Logger)
	a.QueueHandler = handlers.NewQueueHandler(a.TaskQueue, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.TaskQueue, a.StorageManager, a.Logger)
	a.DocumentHandler = handlers.NewDocumentHandler(a.DocumentService, a.StorageManager.DocumentStorage(), a.Logger)
}

// Close shuts down the scheduler and storage.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("close storage: %w", err)
		}
	}
	return nil
}
