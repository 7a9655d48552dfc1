package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// DiskStore 로컬 디렉터리에 저장. 파일은 publicPath 아래 정적 경로로 제공된다.
type DiskStore struct {
	dir        string
	publicPath string
}

// NewDiskStore 디렉터리가 없으면 생성
func NewDiskStore(dir, publicPath string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir, publicPath: publicPath}, nil
}

// Dir 업로드 디렉터리
func (d *DiskStore) Dir() string {
	return d.dir
}

func (d *DiskStore) url(filename string) string {
	return path.Join(d.publicPath, filename)
}

// Put 파일 기록
func (d *DiskStore) Put(_ context.Context, filename, _ string, body io.Reader, _ int64) (string, error) {
	f, err := os.Create(filepath.Join(d.dir, filepath.Base(filename)))
	if err != nil {
		return "", fmt.Errorf("create %s: %w", filename, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return d.url(filename), nil
}

// List 업로드된 파일 목록 (이름순)
func (d *DiskStore) List(_ context.Context) ([]Object, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read upload dir: %w", err)
	}

	objects := make([]Object, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !allowedExt(filepath.Ext(e.Name())) {
			continue
		}
		objects = append(objects, Object{Filename: e.Name(), URL: d.url(e.Name())})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Filename < objects[j].Filename })
	return objects, nil
}
