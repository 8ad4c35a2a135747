package llm

import (
	"strings"

	"github.com/vkruglov/replyharvest/pkg/models"
)

// buildPrompt renders the extraction instruction with an example object in
// schema order. Local models drift less when the expected shape is shown
// verbatim.
func buildPrompt(body string, schema models.FieldSchema) string {
	var example strings.Builder
	example.WriteString("{\n")
	for i, field := range schema {
		example.WriteString("  \"")
		example.WriteString(field)
		example.WriteString("\": \"\"")
		if i < len(schema)-1 {
			example.WriteString(",")
		}
		example.WriteString("\n")
	}
	example.WriteString("}")

	var b strings.Builder
	b.WriteString("Извлеки информацию из письма и верни ТОЛЬКО JSON в указанном формате.\n")
	b.WriteString("Не добавляй пояснения, комментарии или другой текст.\n")
	b.WriteString("Не добавляй длинных ссылок, не включай вложения и списки. ")
	b.WriteString("Включай их только если автор письма явно просит об этом.\n\n")
	b.WriteString("Требуемый формат JSON:\n")
	b.WriteString(example.String())
	b.WriteString("\n\nПравила:\n")
	b.WriteString("- Если информация отсутствует, используй пустую строку \"\"\n")
	b.WriteString("- Не добавляй поля, которых нет в примере\n")
	b.WriteString("- Верни только валидный JSON\n\n")
	b.WriteString("Текст письма:\n")
	b.WriteString(body)
	b.WriteString("\n\nJSON:")
	return b.String()
}
