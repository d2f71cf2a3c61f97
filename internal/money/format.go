package money

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const DefaultCurrency = "MAD"

type Formatter struct {
	Tag             language.Tag
	DefaultCurrency string
}

// NewFormatter falls back to French and MAD, the shop's defaults, when locale
// or currency do not parse.
func NewFormatter(locale, defaultCurrency string) Formatter {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.French
	}
	code := strings.ToUpper(strings.TrimSpace(defaultCurrency))
	if _, err := currency.ParseISO(code); err != nil {
		code = DefaultCurrency
	}
	return Formatter{Tag: tag, DefaultCurrency: code}
}

// Format renders d with exactly two fraction digits followed by the ISO code.
func (f Formatter) Format(d decimal.Decimal, currencyCode string) string {
	p := message.NewPrinter(f.Tag)
	amount := p.Sprintf("%v", number.Decimal(Round2(d).InexactFloat64(), number.Scale(2)))
	return amount + " " + f.code(currencyCode)
}

// FormatValue parses v first; anything unparseable renders as zero.
func (f Formatter) FormatValue(v any, currencyCode string) string {
	d, ok := Parse(v)
	if !ok {
		d = decimal.Zero
	}
	return f.Format(d, currencyCode)
}

func (f Formatter) code(currencyCode string) string {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(currencyCode)))
	if err == nil {
		return unit.String()
	}
	if f.DefaultCurrency != "" {
		return f.DefaultCurrency
	}
	return DefaultCurrency
}
