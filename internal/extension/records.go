package extension

import (
	"context"
	"fmt"
	"os"

	"github.com/ZebulonRouseFrantzich/rtm/internal/store"
)

// Preference keys, relative to "extensions/<id>/".
const (
	keyInstalledVersion = "installedVersion"
	keyExecutablePath   = "executablePath"
	keyLatestVersion    = "latestVersion"
)

// RecordKey returns the preference store key for field of extension id.
func RecordKey(id, field string) string {
	return "extensions/" + id + "/" + field
}

// records reads and writes one extension's persisted state.
type records struct {
	store store.Store
	id    string
}

// load returns the persisted install record, if both fields are present.
func (r records) load(ctx context.Context) (InstallRecord, bool, error) {
	version, okVersion, err := r.store.Get(ctx, RecordKey(r.id, keyInstalledVersion))
	if err != nil {
		return InstallRecord{}, false, fmt.Errorf("load installed version: %w", err)
	}
	path, okPath, err := r.store.Get(ctx, RecordKey(r.id, keyExecutablePath))
	if err != nil {
		return InstallRecord{}, false, fmt.Errorf("load executable path: %w", err)
	}
	if !okVersion || !okPath || version == "" || path == "" {
		return InstallRecord{}, false, nil
	}
	return InstallRecord{InstalledVersion: version, ExecutablePath: path}, true, nil
}

func (r records) save(ctx context.Context, rec InstallRecord) error {
	if err := r.store.Set(ctx, RecordKey(r.id, keyInstalledVersion), rec.InstalledVersion); err != nil {
		return fmt.Errorf("save installed version: %w", err)
	}
	if err := r.store.Set(ctx, RecordKey(r.id, keyExecutablePath), rec.ExecutablePath); err != nil {
		return fmt.Errorf("save executable path: %w", err)
	}
	return nil
}

// clear removes the install record but keeps the cached latest version.
func (r records) clear(ctx context.Context) error {
	if err := r.store.Delete(ctx, RecordKey(r.id, keyInstalledVersion), RecordKey(r.id, keyExecutablePath)); err != nil {
		return fmt.Errorf("clear install record: %w", err)
	}
	return nil
}

func (r records) latest(ctx context.Context) (string, error) {
	v, _, err := r.store.Get(ctx, RecordKey(r.id, keyLatestVersion))
	if err != nil {
		return "", fmt.Errorf("load latest version: %w", err)
	}
	return v, nil
}

func (r records) setLatest(ctx context.Context, version string) error {
	if err := r.store.Set(ctx, RecordKey(r.id, keyLatestVersion), version); err != nil {
		return fmt.Errorf("save latest version: %w", err)
	}
	return nil
}

// validRecord reports whether rec references an existing regular file
// under the versioned install root it claims.
func validRecord(layout Layout, id string, rec InstallRecord) bool {
	if !ValidVersion(rec.InstalledVersion) {
		return false
	}
	if !within(layout.VersionDir(id, rec.InstalledVersion), rec.ExecutablePath) {
		return false
	}
	info, err := os.Stat(rec.ExecutablePath)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
