// Пакет filestore — хранение скачанных файлов на локальном диске.
// Раскладка: {dataDir}/{owner}/{identifier}/{filename}.
// Запись идёт во временный файл *.part с атомарным rename после
// успешного завершения: в каталоге никогда не бывает недокачанных
// файлов под финальным именем.
package filestore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// partSuffix — суффикс временного файла незавершённого скачивания.
const partSuffix = ".part"

// ErrUnsafePath — компонент пути содержит разделители или "..".
var ErrUnsafePath = errors.New("небезопасный компонент пути")

// FileStore — хранилище скачанных файлов на локальном диске.
type FileStore struct {
	// dataDir — корневая директория хранения (CH_DOWNLOADS_DIR)
	dataDir string
}

// New создаёт FileStore. Создаёт корневую директорию, если её нет.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// PendingFile — открытый на запись временный файл скачивания.
// Завершается либо Commit (атомарный rename в финальное имя),
// либо Abort (удаление недокачанного файла).
type PendingFile struct {
	f         *os.File
	partPath  string
	finalPath string
}

// Write реализует io.Writer: запись во временный файл.
func (p *PendingFile) Write(b []byte) (int, error) {
	return p.f.Write(b)
}

// Commit завершает запись: fsync, close, атомарный rename.
// Возвращает абсолютный путь финального файла.
func (p *PendingFile) Commit() (string, error) {
	if err := p.f.Sync(); err != nil {
		p.f.Close()
		os.Remove(p.partPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := p.f.Close(); err != nil {
		os.Remove(p.partPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(p.partPath, p.finalPath); err != nil {
		os.Remove(p.partPath)
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return p.finalPath, nil
}

// Abort прерывает запись и удаляет временный файл.
func (p *PendingFile) Abort() {
	p.f.Close()
	os.Remove(p.partPath)
}

// Begin открывает временный файл для скачивания.
// tag — уникальная метка задания: параллельные задания на один и тот же
// файл пишут в разные *.part и не затирают друг друга; побеждает тот,
// кто переименуется последним. Все компоненты пути проверяются на traversal.
func (fs *FileStore) Begin(ownerID, identifier, filename, tag string) (*PendingFile, error) {
	finalPath, err := fs.resolve(ownerID, identifier, filename)
	if err != nil {
		return nil, err
	}
	if err := checkPathComponent(tag); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию скачивания: %w", err)
	}

	partPath := finalPath + "." + tag + partSuffix
	f, err := os.Create(partPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	return &PendingFile{f: f, partPath: partPath, finalPath: finalPath}, nil
}

// Open открывает завершённый файл для чтения.
// Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(ownerID, identifier, filename string) (*os.File, error) {
	fullPath, err := fs.resolve(ownerID, identifier, filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", filename, err)
	}
	return f, nil
}

// Delete удаляет завершённый файл. Отсутствующий файл — не ошибка.
func (fs *FileStore) Delete(ownerID, identifier, filename string) error {
	fullPath, err := fs.resolve(ownerID, identifier, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", filename, err)
	}
	return nil
}

// FileSize возвращает размер завершённого файла.
func (fs *FileStore) FileSize(ownerID, identifier, filename string) (int64, error) {
	fullPath, err := fs.resolve(ownerID, identifier, filename)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", filename, err)
	}
	return info.Size(), nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// resolve строит абсолютный путь файла, отклоняя traversal-компоненты.
func (fs *FileStore) resolve(ownerID, identifier, filename string) (string, error) {
	for _, part := range []string{ownerID, identifier, filename} {
		if err := checkPathComponent(part); err != nil {
			return "", err
		}
	}
	return filepath.Join(fs.dataDir, ownerID, identifier, filename), nil
}

// checkPathComponent отклоняет пустые компоненты, разделители путей и "..".
func checkPathComponent(s string) error {
	if s == "" || s == "." || s == ".." ||
		strings.ContainsAny(s, `/\`) || strings.Contains(s, "\x00") {
		return fmt.Errorf("%w: %q", ErrUnsafePath, s)
	}
	return nil
}
