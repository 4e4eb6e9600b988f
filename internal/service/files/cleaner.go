package files

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"
)

// Cleaner удаляет старые скачанные результаты по TTL в заданной директории.
type Cleaner struct {
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewCleaner(logger *zap.SugaredLogger) *Cleaner {
	return &Cleaner{logger: logger, now: time.Now}
}

// Clean удаляет файлы старше ttl из dir (рекурсивно), затем опустевшие подпапки.
// В режиме debug — ничего не делает. Возвращает число удалённых файлов.
func (c *Cleaner) Clean(dir string, ttl time.Duration, debug bool) int {
	if debug {
		c.logger.Infow("DEBUG: очистка скачанных файлов отключена", "dir", dir, "ttl", ttl.String())
		return 0
	}
	if ttl <= 0 || dir == "" {
		return 0
	}

	deadline := c.now().Add(-ttl)
	removed := 0
	var dirs []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			c.logger.Warnw("Не удалось прочитать путь при очистке", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != dir {
				dirs = append(dirs, path)
			}
			return nil
		}
		fi, statErr := d.Info()
		if statErr != nil {
			c.logger.Warnw("Не удалось получить информацию о файле при очистке", "path", path, "error", statErr)
			return nil
		}
		if fi.ModTime().Before(deadline) {
			if err := os.Remove(path); err != nil {
				c.logger.Warnw("Не удалось удалить старый файл", "path", path, "error", err)
				return nil
			}
			removed++
		}
		return nil
	})
	if err != nil {
		c.logger.Warnw("Очистка прервана", "dir", dir, "error", err)
	}

	// Сначала самые вложенные; непустые папки os.Remove не тронет
	slices.Reverse(dirs)
	for _, d := range dirs {
		_ = os.Remove(d)
	}

	if removed > 0 {
		c.logger.Debugw("Очистка скачанных файлов выполнена", "dir", dir, "removed", removed, "before", deadline.Format(time.RFC3339))
	}
	return removed
}
