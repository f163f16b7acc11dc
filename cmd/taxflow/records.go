package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Veraticus/taxflow/internal/common"
	"github.com/Veraticus/taxflow/internal/model"
	"github.com/Veraticus/taxflow/internal/ofx"
)

// recordFile is the document form of a records file. A bare list is accepted too.
type recordFile struct {
	Records []model.Record `json:"records" yaml:"records"`
}

// loadRecords reads records from an OFX/QFX statement or a JSON/YAML file.
func loadRecords(ctx context.Context, path string, includeCredits bool) ([]model.Record, error) {
	// #nosec G304 - path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ofx", ".qfx":
		p := ofx.NewParser()
		p.IncludeCredits = includeCredits
		return p.ParseFile(ctx, bytes.NewReader(data))
	case ".json":
		return decodeRecords(data, json.Unmarshal)
	case ".yaml", ".yml":
		return decodeRecords(data, yaml.Unmarshal)
	default:
		return nil, common.NewUserError(fmt.Sprintf("Unsupported records file %q (want .ofx, .qfx, .json, .yaml)", path), common.ErrConfiguration)
	}
}

func decodeRecords(data []byte, unmarshal func([]byte, any) error) ([]model.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if isList(trimmed) {
		var list []model.Record
		if err := unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: failed to decode records: %w", common.ErrDataIntegrity, err)
		}
		return list, nil
	}
	var doc recordFile
	if err := unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to decode records: %w", common.ErrDataIntegrity, err)
	}
	return doc.Records, nil
}

// loadCorrections reads reviewer corrections from a JSON or YAML file.
func loadCorrections(path string) ([]model.Correction, error) {
	// #nosec G304 - path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc struct {
		Corrections []model.Correction `json:"corrections" yaml:"corrections"`
	}
	trimmed := bytes.TrimSpace(data)
	unmarshal := yaml.Unmarshal
	if strings.EqualFold(filepath.Ext(path), ".json") {
		unmarshal = json.Unmarshal
	}
	if isList(trimmed) {
		err = unmarshal(trimmed, &doc.Corrections)
	} else {
		err = unmarshal(trimmed, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode corrections: %w", common.ErrDataIntegrity, err)
	}
	return doc.Corrections, nil
}

func isList(data []byte) bool {
	return bytes.HasPrefix(data, []byte("[")) || bytes.HasPrefix(data, []byte("- "))
}
