package quiz

import (
	"bytes"
	"context"
	"embed"
	"strings"
	"text/template"
	"unicode/utf8"

	"eagle-task/internal/assistant"
	"eagle-task/internal/shared/model"
	"eagle-task/pkg/logging"
)

//go:embed prompts/quiz.tmpl
var promptFS embed.FS

var quizTmpl = template.Must(template.ParseFS(promptFS, "prompts/quiz.tmpl"))

// Archiver 源文档归档（MinIO）
type Archiver interface {
	ArchiveDocument(ctx context.Context, filename string, data []byte, contentType string) (string, error)
}

// Options Generator 配置
type Options struct {
	QuestionCount  int
	MaxSourceChars int
	Archiver       Archiver // 可为 nil
	Logger         *logging.Logger
}

// Generator 测验生成器
type Generator struct {
	gateway        assistant.Gateway
	archiver       Archiver
	questionCount  int
	maxSourceChars int
	log            *logging.Logger
}

// NewGenerator 创建测验生成器
func NewGenerator(gateway assistant.Gateway, opts Options) *Generator {
	g := &Generator{
		gateway:        gateway,
		archiver:       opts.Archiver,
		questionCount:  opts.QuestionCount,
		maxSourceChars: opts.MaxSourceChars,
		log:            opts.Logger,
	}
	if g.questionCount <= 0 {
		g.questionCount = 10
	}
	if g.maxSourceChars <= 0 {
		g.maxSourceChars = 60000
	}
	if g.log == nil {
		g.log = logging.Nop()
	}
	return g
}

// Generate 从文档生成测验
//
// 错误：ErrUnsupportedType / ErrEmptyDocument / *DocumentError（输入问题），
// *assistant.GatewayError，*assistant.MalformedReplyError。
func (g *Generator) Generate(ctx context.Context, filename string, data []byte) (model.Quiz, error) {
	text, err := ExtractText(filename, data)
	if err != nil {
		return model.Quiz{}, err
	}

	if g.archiver != nil {
		key, err := g.archiver.ArchiveDocument(ctx, filename, data, ContentType(filename))
		if err != nil {
			g.log.WithContext(ctx).WithError(err).Warn().Str("filename", filename).Msg("quiz document archive failed")
		} else {
			g.log.WithContext(ctx).Info().Str("object", key).Msg("quiz document archived")
		}
	}

	system, err := g.systemPrompt()
	if err != nil {
		return model.Quiz{}, err
	}

	reply, err := g.gateway.Complete(ctx, []model.Turn{
		model.SystemTurn(system),
		model.UserTurn(truncate(text, g.maxSourceChars)),
	})
	if err != nil {
		return model.Quiz{}, err
	}

	var quiz model.Quiz
	if err := assistant.DecodeStructured(reply, assistant.QuizSchema, &quiz); err != nil {
		return model.Quiz{}, err
	}
	return quiz, nil
}

func (g *Generator) systemPrompt() (string, error) {
	var buf bytes.Buffer
	if err := quizTmpl.Execute(&buf, struct{ Count int }{g.questionCount}); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// truncate 按字符截断，不拆分 UTF-8 编码
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
