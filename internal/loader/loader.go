// Package loader строит определения workflow из файлов и кода.
//
// Поддерживаются два источника:
//   - файлы YAML/JSON (LoadFile, LoadDir, LoadBytes)
//   - fluent Builder для определений, описанных в Go-коде
//
// Оба источника выдают одинаковые валидированные domain.WorkflowDefinition.
// Любая ошибка возвращается как *LoadError; частично загруженных
// определений не бывает.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Flowy/internal/domain"
)

// Расширения файлов, которые читает LoadDir.
var supportedExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
}

// LoadBytes разбирает определение из YAML или JSON.
// source используется только в сообщениях об ошибках.
func LoadBytes(data []byte, source string) (*domain.WorkflowDefinition, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, NewLoadError(source, "", "malformed document: "+err.Error(), err)
	}
	if root.Kind == 0 {
		return nil, NewLoadError(source, "", "empty document", nil)
	}

	if err := checkRequired(source, &root); err != nil {
		return nil, err
	}

	var doc Document
	if err := root.Decode(&doc); err != nil {
		return nil, NewLoadError(source, "", "invalid structure: "+err.Error(), err)
	}

	def, err := doc.toDefinition()
	if err != nil {
		return nil, wrapDefinitionError(source, err)
	}
	return def, nil
}

// Load читает определение из r.
func Load(r io.Reader, source string) (*domain.WorkflowDefinition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, NewLoadError(source, "", "read failed: "+err.Error(), err)
	}
	return LoadBytes(data, source)
}

// LoadFile читает определение из файла .yaml, .yml или .json.
func LoadFile(path string) (*domain.WorkflowDefinition, error) {
	if !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
		return nil, NewLoadError(path, "", "expected .yaml, .yml or .json", ErrUnsupportedFormat)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, "", "read failed: "+err.Error(), err)
	}
	return LoadBytes(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), path)
}

// LoadDir читает все определения каталога (без рекурсии), в порядке имён файлов.
// Первая же ошибка прерывает загрузку.
func LoadDir(dir string) ([]*domain.WorkflowDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, NewLoadError(dir, "", "read dir failed: "+err.Error(), err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !supportedExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	defs := make([]*domain.WorkflowDefinition, 0, len(names))
	for _, name := range names {
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// wrapDefinitionError превращает ошибку валидации domain в LoadError.
func wrapDefinitionError(source string, err error) error {
	var defErr *domain.DefinitionError
	if errors.As(err, &defErr) {
		field := ""
		if defErr.StepID != "" {
			field = fmt.Sprintf("steps[%s]", defErr.StepID)
		}
		return NewLoadError(source, field, defErr.Message, err)
	}
	return NewLoadError(source, "", err.Error(), err)
}
