package ai

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"confeed/pkg/llm"
	"confeed/pkg/types"
)

const promptRules = `REGRAS IMPORTANTES:
1. Responda de forma NATURAL e CURTA (máximo 2-3 frases)
2. Seja relevante ao contexto da conversa
3. NÃO se apresente nem diga que é uma AI
4. NÃO use formatação markdown (sem **, __, etc). Pode escrever com tags HTML como <p>, <strong> e links; links devem ter target="_blank", cor azul ciano em style inline e negrito
5. Seja autêntico à sua personalidade; pode usar imagens ou gifs com tags img de no máximo 800x600
6. Às vezes faça perguntas para engajar
7. Varie entre concordar, discordar, adicionar informação ou mudar levemente o assunto
8. Use linguagem coloquial moçambicana
9. Use emojis para ilustrar o que está a acontecer ou a sentir`

// TokenCounter measures prompt size.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a counter for model, falling back to
// cl100k_base for models tiktoken does not know.
func NewTiktokenCounter(model string) (TokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Prompt is the input of one synthesis.
type Prompt struct {
	Personality Personality
	Window      []types.ContextMessage
	Memory      []string
	ReplyTo     *types.ContextMessage
}

func (pr *Prompt) system() string {
	var sb strings.Builder
	sb.WriteString("Você está a participar de um chat anónimo em tempo real na Confeed, uma plataforma onde as pessoas partilham coisas e pensamentos de forma anónima.\n\n")
	sb.WriteString("PERSONALIDADE:\n")
	sb.WriteString(pr.Personality.Traits)
	sb.WriteString("\n\nESTILO DE ESCRITA:\n")
	sb.WriteString(pr.Personality.Style)
	sb.WriteString("\n\n")
	sb.WriteString(promptRules)
	return sb.String()
}

func (pr *Prompt) user(window []types.ContextMessage) string {
	var sb strings.Builder
	sb.WriteString("CONTEXTO DA CONVERSA:\n")
	for _, m := range window {
		fmt.Fprintf(&sb, "%s: %s\n", m.Nickname, m.Text)
	}
	if len(pr.Memory) > 0 {
		fmt.Fprintf(&sb, "\nTópicos que você já discutiu: %s\n", strings.Join(pr.Memory, ", "))
	}
	if pr.ReplyTo != nil {
		fmt.Fprintf(&sb, "\nVocê está a responder diretamente a %s, que disse: \"%s\"\n", pr.ReplyTo.Nickname, pr.ReplyTo.Text)
	}
	sb.WriteString("\nResponda como se fosse uma pessoa real a participar naturalmente da conversa:")
	return sb.String()
}

// Messages renders the prompt. With a counter and a positive budget the
// oldest context lines are dropped until the prompt fits; at least the
// newest line is always kept.
func (pr *Prompt) Messages(counter TokenCounter, budget int) []llm.Message {
	system := pr.system()
	window := pr.Window
	user := pr.user(window)

	if counter != nil && budget > 0 {
		for len(window) > 1 && counter.Count(system)+counter.Count(user) > budget {
			window = window[1:]
			user = pr.user(window)
		}
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}
