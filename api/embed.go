// Package api 嵌入的 OpenAPI 文档
package api

import (
	"context"
	"embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// DocumentFile 文档在 OpenAPIFS 中的路径
const DocumentFile = "openapi/eagle-task.yaml"

//go:embed openapi/*.yaml
var OpenAPIFS embed.FS

// Document 返回原始 YAML
func Document() ([]byte, error) {
	return OpenAPIFS.ReadFile(DocumentFile)
}

// Load 解析并校验 OpenAPI 文档
func Load(ctx context.Context) (*openapi3.T, error) {
	data, err := Document()
	if err != nil {
		return nil, err
	}
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", DocumentFile, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate %s: %w", DocumentFile, err)
	}
	return doc, nil
}
