package infra

import "regexp"

// Pesos fixos por categoria de padrão. Injeção de comando é o mais alto,
// evasão de encoding o mais baixo. São constantes de tuning, não requisito
// de corretude: ambientes podem recompilar com outros valores; o threshold
// de bloqueio é que vem da política por categoria.
const (
	WeightShell     = 60
	WeightScript    = 45
	WeightSQL       = 40
	WeightTraversal = 35
	WeightSSTI      = 30
	WeightDOMExfil  = 25
	WeightSQLHint   = 15
	WeightEncoding  = 10
)

// threatPattern é uma entrada da biblioteca fixa de matchers.
//
// Cada matcher contribui seu peso no máximo uma vez por parte da requisição.
// As regexes são escritas para consumir o trecho ofensivo inteiro, de modo
// que remover os spans casados seja idempotente (re-escanear a saída
// sanitizada não levanta o score de novo).
type threatPattern struct {
	category string
	weight   int
	re       *regexp.Regexp
}

// Ordem fixa: do peso mais alto para o mais baixo.
var threatPatterns = []threatPattern{
	{
		category: "shell",
		weight:   WeightShell,
		re: regexp.MustCompile(`(?i)[;&|]\s*(?:cat|ls|rm|wget|curl|bash|sh|nc|netcat|python|perl|powershell|cmd)\b[^;&|]*` +
			"|\\$\\([^)]*\\)|`[^`]*`" + `|\|\s*(?:sh|bash)\b`),
	},
	{
		category: "script",
		weight:   WeightScript,
		re: regexp.MustCompile(`(?i)<\s*/?\s*(?:script|iframe|object|embed)\b[^>]*>?` +
			`|javascript\s*:|vbscript\s*:|on(?:load|error|click|mouseover|focus|submit)\s*=`),
	},
	{
		category: "sql",
		weight:   WeightSQL,
		re: regexp.MustCompile(`(?i)\b(?:union\s+(?:all\s+)?select|select\s+[\w*,\s]+\bfrom\b|insert\s+into|drop\s+table|delete\s+from|update\s+\w+\s+set|truncate\s+table|exec\s+xp_\w+)\b[^;]*` +
			`|\bor\s+1\s*=\s*1\b|'\s*or\s*'[^']*'\s*=\s*'`),
	},
	{
		category: "sql",
		weight:   WeightSQLHint,
		// comentário SQL no fim do valor, típico de término de statement
		re: regexp.MustCompile(`(?:['";]|\s)--(?:\s|$)|/\*[^*]*\*/`),
	},
	{
		category: "traversal",
		weight:   WeightTraversal,
		re: regexp.MustCompile(`(?i)(?:\.\./|\.\.\\)+[\w./\\-]*|%2e%2e(?:%2f|%5c|/)` +
			`|/etc/(?:passwd|shadow)|\\windows\\system32`),
	},
	{
		category: "ssti",
		weight:   WeightSSTI,
		re:       regexp.MustCompile(`(?i)<\?php[^?]*\??>?|<%[=!]?[^%]*%?>?|\{\{[^}]*\}\}|\$\{[^}]*\}`),
	},
	{
		category: "dom_exfil",
		weight:   WeightDOMExfil,
		re: regexp.MustCompile(`(?i)document\s*\.\s*(?:cookie|location|domain)|window\s*\.\s*location` +
			`|localstorage\s*\.|sessionstorage\s*\.|\.\s*innerhtml\s*=|navigator\s*\.\s*sendbeacon`),
	},
	{
		category: "encoding",
		weight:   WeightEncoding,
		re: regexp.MustCompile(`(?i)%25(?:2e|2f|5c|3c|3e|27)|%c0%af|%c1%9c` +
			`|\\u00(?:3c|3e|27|22)|&#x?0*(?:3c|60|62|39);`),
	},
}
