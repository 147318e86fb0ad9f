// Package quiz 根据上传的课程资料生成练习测验
package quiz

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedType 不支持的文件类型（仅 .txt / .docx）
var ErrUnsupportedType = errors.New("quiz: unsupported file type")

// ErrEmptyDocument 文档中没有可用文本
var ErrEmptyDocument = errors.New("quiz: document has no text")

// DocumentError 文档内容无法解析
type DocumentError struct {
	Filename string
	Err      error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("quiz: cannot read %s: %v", e.Filename, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// 支持的扩展名
const (
	ExtText = ".txt"
	ExtDocx = ".docx"
)

// Extension 返回小写扩展名
func Extension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// Supported 是否为支持的文件类型
func Supported(filename string) bool {
	switch Extension(filename) {
	case ExtText, ExtDocx:
		return true
	}
	return false
}

// ContentType 归档时使用的 MIME 类型
func ContentType(filename string) string {
	switch Extension(filename) {
	case ExtText:
		return "text/plain; charset=utf-8"
	case ExtDocx:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/octet-stream"
}

// ExtractText 提取文档纯文本
func ExtractText(filename string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch Extension(filename) {
	case ExtText:
		text, err = plainText(data)
	case ExtDocx:
		text, err = docxText(data)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, Extension(filename))
	}
	if err != nil {
		return "", &DocumentError{Filename: filename, Err: err}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

func plainText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid UTF-8")
	}
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

// docxText 读取 word/document.xml，按段落输出文本
func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("word/document.xml not found")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var (
		b      strings.Builder
		inText bool
	)
	dec := xml.NewDecoder(io.LimitReader(rc, 64<<20))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
