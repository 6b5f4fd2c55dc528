package categories

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/oentex/oentex/internal/models"
)

// Defaults is the built-in fallback set used when the backend table is
// unavailable and no fallback file is configured
var Defaults = []models.Category{
	{Value: string(models.CategoryCryptoExchange), Label: "Crypto Exchanges", Icon: "bitcoin", Description: "Buy, sell and trade cryptocurrencies"},
	{Value: string(models.CategoryStockBroker), Label: "Stock Brokers", Icon: "trending-up", Description: "Trade stocks, ETFs and more"},
	{Value: string(models.CategoryForexBroker), Label: "Forex Brokers", Icon: "dollar-sign", Description: "Currency trading platforms"},
	{Value: string(models.CategoryPropFirm), Label: "Prop Firms", Icon: "briefcase", Description: "Funded trader programs"},
	{Value: string(models.CategoryOptionsBroker), Label: "Options Brokers", Icon: "layers", Description: "Options and derivatives trading"},
	{Value: string(models.CategoryTradingTools), Label: "Trading Tools", Icon: "tool", Description: "Charting, signals and analytics"},
}

// Catalog holds the fallback category set
type Catalog struct {
	mu         sync.RWMutex
	categories []models.Category
}

// NewCatalog creates a catalog holding the built-in defaults
func NewCatalog() *Catalog {
	return &Catalog{categories: append([]models.Category(nil), Defaults...)}
}

// List returns a copy of the fallback set
func (c *Catalog) List() []models.Category {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Category(nil), c.categories...)
}

// Replace swaps the fallback set
func (c *Catalog) Replace(categories []models.Category) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories = append([]models.Category(nil), categories...)
}

// LoadFromFile replaces the fallback set with the categories of a YAML file.
// Invalid entries are skipped; a file with no valid entry is an error and
// leaves the current set in place.
func (c *Catalog) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	loaded := make([]models.Category, 0, len(file.Categories))
	for _, rec := range file.Categories {
		category, err := models.ParseCategory(&models.CategoryRecord{
			Value:       &rec.Value,
			Label:       &rec.Label,
			Icon:        &rec.Icon,
			Description: &rec.Description,
		})
		if err != nil {
			slog.Warn("skipping category", "file", path, "error", err)
			continue
		}
		loaded = append(loaded, *category)
	}
	if len(loaded) == 0 {
		return fmt.Errorf("no valid categories in %s", path)
	}

	c.mu.Lock()
	c.categories = loaded
	c.mu.Unlock()

	slog.Info("fallback categories loaded", "file", path, "count", len(loaded))
	return nil
}

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so editors that replace the file are picked up.
func (c *Catalog) Watch(ctx context.Context, path string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := c.LoadFromFile(path); err != nil {
					slog.Warn("failed to reload categories", "file", path, "error", err)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("category watcher error", "error", err)
			}
		}
	}()

	slog.Info("watching fallback categories", "file", path)
	return nil
}

type catalogFile struct {
	Categories []categoryEntry `yaml:"categories"`
}

type categoryEntry struct {
	Value       string `yaml:"value"`
	Label       string `yaml:"label"`
	Icon        string `yaml:"icon"`
	Description string `yaml:"description"`
}
