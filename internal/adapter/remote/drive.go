package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Drive uploads files to Google Drive. The destination's directory part names a
// folder path under My Drive, created on first use; its base name becomes the file
// name. An rclone-style "remote:" prefix on the folder path is ignored. Locators
// are Drive file ids.
type Drive struct {
	svc      *drive.Service
	folderID string
	log      *zap.Logger

	mu      sync.Mutex
	folders map[string]string
}

// NewDrive builds a Drive client from an authorized-user credentials file
// (token.json). When folderID is set every file goes into that folder.
func NewDrive(ctx context.Context, credentialsFile, folderID string, log *zap.Logger) (*Drive, error) {
	svc, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(drive.DriveFileScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return NewDriveWithService(svc, folderID, log), nil
}

// NewDriveWithService wraps an existing service handle. The handle is shared by
// all jobs.
func NewDriveWithService(svc *drive.Service, folderID string, log *zap.Logger) *Drive {
	if log == nil {
		log = zap.NewNop()
	}
	return &Drive{
		svc:      svc,
		folderID: folderID,
		log:      log.Named("drive"),
		folders:  make(map[string]string),
	}
}

func (d *Drive) Name() string {
	return "drive"
}

func (d *Drive) Put(ctx context.Context, localPath, destination string) (string, error) {
	dir, name := path.Split(destination)
	if name == "" {
		return "", fmt.Errorf("drive: destination %q has no file name", destination)
	}

	parent := d.folderID
	if parent == "" {
		var err error
		parent, err = d.resolveFolder(ctx, dir)
		if err != nil {
			return "", err
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	created, err := d.svc.Files.Create(&drive.File{Name: name, Parents: []string{parent}}).
		Media(f).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("drive upload %s: %w", name, err)
	}
	d.log.Debug("uploaded", zap.String("name", name), zap.String("file_id", created.Id))
	return created.Id, nil
}

// Stat returns the stored size of the file with id locator.
func (d *Drive) Stat(ctx context.Context, locator string) (int64, error) {
	f, err := d.svc.Files.Get(locator).Fields("size").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("drive stat %s: %w", locator, err)
	}
	return f.Size, nil
}

// Remove deletes the file with id locator.
func (d *Drive) Remove(ctx context.Context, locator string) error {
	if err := d.svc.Files.Delete(locator).Context(ctx).Do(); err != nil {
		return fmt.Errorf("drive delete %s: %w", locator, err)
	}
	d.log.Debug("deleted", zap.String("file_id", locator))
	return nil
}

// resolveFolder finds or creates each folder along dir, starting at My Drive.
// Results are cached; the mutex keeps concurrent jobs from creating duplicates.
func (d *Drive) resolveFolder(ctx context.Context, dir string) (string, error) {
	if i := strings.Index(dir, ":"); i >= 0 {
		dir = dir[i+1:]
	}
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return "root", nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.folders[dir]; ok {
		return id, nil
	}

	parent := "root"
	walked := ""
	for _, name := range strings.Split(dir, "/") {
		if name == "" {
			continue
		}
		walked = path.Join(walked, name)
		if id, ok := d.folders[walked]; ok {
			parent = id
			continue
		}
		id, err := d.findOrCreateFolder(ctx, name, parent)
		if err != nil {
			return "", err
		}
		d.folders[walked] = id
		parent = id
	}
	return parent, nil
}

func (d *Drive) findOrCreateFolder(ctx context.Context, name, parent string) (string, error) {
	q := fmt.Sprintf("mimeType = '%s' and name = '%s' and '%s' in parents and trashed = false",
		folderMimeType, escapeQuery(name), escapeQuery(parent))
	list, err := d.svc.Files.List().Q(q).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive find folder %s: %w", name, err)
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	folder, err := d.svc.Files.Create(&drive.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parent},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive create folder %s: %w", name, err)
	}
	if folder.Id == "" {
		return "", errors.New("drive create folder: empty id")
	}
	d.log.Info("created folder", zap.String("name", name), zap.String("folder_id", folder.Id))
	return folder.Id, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
