package domain

// RequestParts são as partes inspecionáveis de uma requisição, já extraídas
// pelo adapter HTTP. Propositalmente sem tipos de net/http para manter o
// scanner puro e testável.
type RequestParts struct {
	Path    string
	Query   map[string][]string
	Headers map[string][]string
	Body    []byte
}

// ThreatResult é o resultado da análise de ameaça de uma requisição.
//
// Tipo de valor, nunca compartilhado além da requisição.
type ThreatResult struct {
	// Score é a soma ponderada dos padrões que casaram.
	Score int
	// Categories são os nomes das categorias de padrão que casaram
	// (para observabilidade; nunca expostas ao cliente).
	Categories []string
	// Block indica score >= threshold da categoria (ou strict mode).
	Block bool
	// Sanitized indica que Parts difere do original.
	Sanitized bool
	// Parts é o conteúdo após sanitização. Igual ao original quando
	// Sanitized=false.
	Parts RequestParts
}

// Scanner analisa as partes de uma requisição sob uma política.
//
// Implementações devem ser funções puras sobre tabelas somente-leitura:
// nenhum lock, totalmente paralelizável. Entrada malformada em um matcher
// individual conta como score 0 para aquele matcher, nunca derruba a análise.
type Scanner interface {
	Scan(parts RequestParts, pol CategoryPolicy) ThreatResult
}
