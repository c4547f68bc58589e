package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	archibald "github.com/H4tholdir/archibaldblackant-sub005"
	"github.com/H4tholdir/archibaldblackant-sub005/internal/config"
)

// connector binds the out-of-process automation driver and its per-type
// page fetchers.
type connector interface {
	Driver() archibald.Driver
	Fetchers() archibald.FetcherSet
}

// newConnector resolves the automation backend. The real Archibald UI
// driver ships separately and is linked by the deployment build; the "file"
// connector replays exported snapshots from disk for local runs and
// rehearsals.
func newConnector(kind string) (connector, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "file":
		dir := config.String("ARCHIBALD_SNAPSHOT_DIR", "")
		if dir == "" {
			return nil, errors.New("ARCHIBALD_SNAPSHOT_DIR is required for the file connector")
		}
		return newFileConnector(dir)
	default:
		return nil, fmt.Errorf("no connector for %q: the Archibald UI driver is linked in deployment builds", kind)
	}
}

// fileConnector serves snapshot pages from JSON files laid out as
// <dir>/<sync-type>/page-<n>.json.
type fileConnector struct {
	dir string
}

func newFileConnector(dir string) (*fileConnector, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "snapshot dir %s", dir)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("snapshot path %s is not a directory", dir)
	}
	return &fileConnector{dir: dir}, nil
}

func (c *fileConnector) Driver() archibald.Driver { return fileDriver{} }

func (c *fileConnector) Fetchers() archibald.FetcherSet {
	return archibald.FetcherSet{
		Customers: &fileFetcher{dir: c.dir, syncType: archibald.SyncTypeCustomers, decode: decodeCustomers},
		Products:  &fileFetcher{dir: c.dir, syncType: archibald.SyncTypeProducts, decode: decodeProducts},
		Prices:    &fileFetcher{dir: c.dir, syncType: archibald.SyncTypePrices, decode: decodePrices},
		Orders:    &fileFetcher{dir: c.dir, syncType: archibald.SyncTypeOrders, decode: decodeOrders},
	}
}

type fileSession struct {
	token string
}

func (s fileSession) Token() string                  { return s.token }
func (s fileSession) Teardown(context.Context) error { return nil }

type fileDriver struct{}

func (fileDriver) Login(context.Context, archibald.Credentials) (archibald.DriverSession, error) {
	return fileSession{token: uuid.NewString()}, nil
}

func (fileDriver) RestoreSession(_ context.Context, token string) (archibald.DriverSession, error) {
	return fileSession{token: token}, nil
}

type fileFetcher struct {
	dir      string
	syncType string
	decode   func([]byte) ([]archibald.Syncable, error)
}

func (f *fileFetcher) FetchPage(_ context.Context, _ *archibald.SessionHandle, page int) (*archibald.Page, error) {
	pattern := filepath.Join(f.dir, f.syncType, "page-*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "scan snapshot pages for %s", f.syncType)
	}
	total := len(matches)
	if page > total {
		return &archibald.Page{Number: page, TotalPages: total}, nil
	}
	path := filepath.Join(f.dir, f.syncType, fmt.Sprintf("page-%d.json", page))
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, archibald.Transient(errors.Wrapf(err, "read snapshot page %s", path))
	}
	records, err := f.decode(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "decode snapshot page %s", path)
	}
	return &archibald.Page{Number: page, TotalPages: total, Records: records}, nil
}

func decodeCustomers(payload []byte) ([]archibald.Syncable, error) {
	var items []*archibald.Customer
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, err
	}
	out := make([]archibald.Syncable, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out, nil
}

func decodeProducts(payload []byte) ([]archibald.Syncable, error) {
	var items []*archibald.Product
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, err
	}
	out := make([]archibald.Syncable, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out, nil
}

func decodePrices(payload []byte) ([]archibald.Syncable, error) {
	var items []*archibald.Price
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, err
	}
	out := make([]archibald.Syncable, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out, nil
}

func decodeOrders(payload []byte) ([]archibald.Syncable, error) {
	var items []*archibald.OrderLine
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, err
	}
	out := make([]archibald.Syncable, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out, nil
}
