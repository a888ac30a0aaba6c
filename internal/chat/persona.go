package chat

import (
	"strings"

	"github.com/surgutroads/roadwatch/internal/bridge"
)

// personaDirective is the assistant's fixed system persona. The
// product speaks Russian to its users regardless of query language.
const personaDirective = "Ты - AI-ассистент для анализа дорожной ситуации в городе Сургут.\n" +
	"Ты помогаешь пользователям получать информацию о состоянии дорог, камерах наблюдения, уведомлениях и статистике.\n" +
	"Отвечай на русском языке. Будь кратким и полезным."

// systemDirective composes the persona with the capability roster for
// this turn and, when present, the caller's capability suggestion.
func systemDirective(caps []bridge.Capability, suggested string) string {
	var sb strings.Builder
	sb.WriteString(personaDirective)

	if len(caps) > 0 {
		sb.WriteString("\n\nУ тебя есть доступ к следующим инструментам для получения данных:\n")
		for _, c := range caps {
			sb.WriteString("- ")
			sb.WriteString(c.Name)
			if c.Description != "" {
				sb.WriteString(": ")
				sb.WriteString(c.Description)
			}
			sb.WriteString("\n")
		}
		sb.WriteString("Вызывай инструменты, когда вопрос касается актуальных данных о дорогах.")
	}

	if suggested != "" {
		sb.WriteString("\n\nПользователь просит при ответе использовать инструмент «")
		sb.WriteString(suggested)
		sb.WriteString("», если это уместно для вопроса.")
	}

	return sb.String()
}

// hasCapability reports whether name is in the discovered set.
func hasCapability(caps []bridge.Capability, name string) bool {
	for _, c := range caps {
		if c.Name == name {
			return true
		}
	}
	return false
}
