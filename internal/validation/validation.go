// Package validation normalizes and validates questionnaire answers before
// they are stored. Every validator is pure; failure carries a user-facing
// retry message in Italian.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/RisarcimentoMiteni/intakebot/internal/models"
)

// Result is the outcome of validating a single answer.
type Result struct {
	Valid      bool
	Error      string // user-facing message when invalid
	Normalized string // canonical form when valid
}

func invalid(msg string) Result       { return Result{Valid: false, Error: msg} }
func valid(normalized string) Result  { return Result{Valid: true, Normalized: normalized} }

var (
	nameRe  = regexp.MustCompile(`^[a-zA-ZÀ-ÿ\s'-]+$`)
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRe = regexp.MustCompile(`^(\+39|0039)?[0-9]{9,10}$`)
	dateRe  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
)

// Name validates a first or last name: letters, spaces, apostrophes, at
// least 2 characters, title-cased on output.
func Name(input string) Result {
	trimmed := strings.TrimSpace(input)
	if len([]rune(trimmed)) < 2 {
		return invalid("Il nome deve contenere almeno 2 caratteri.")
	}
	if !nameRe.MatchString(trimmed) {
		return invalid("Il nome può contenere solo lettere, spazi e apostrofi.")
	}

	words := strings.Fields(trimmed)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
		words[i] = string(runes)
	}
	return valid(strings.Join(words, " "))
}

// Email validates a basic local@domain.tld shape and lower-cases it.
func Email(input string) Result {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	if !emailRe.MatchString(trimmed) {
		return invalid("L'email non è valida. Assicurati che contenga @ e un dominio valido.")
	}
	return valid(trimmed)
}

// Phone validates an Italian phone number (9-10 digits, optional +39/0039
// prefix) and normalizes it to the canonical +39 form. Normalization is
// idempotent: an already-normalized number maps to itself.
func Phone(input string) Result {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(input))
	if !phoneRe.MatchString(cleaned) {
		return invalid("Il numero di telefono non è valido. Inserisci un numero italiano (es. 3331234567 o +393331234567).")
	}

	normalized := cleaned
	switch {
	case strings.HasPrefix(normalized, "+39"):
		// already canonical
	case strings.HasPrefix(normalized, "0039"):
		normalized = "+39" + normalized[4:]
	default:
		normalized = "+39" + normalized
	}
	return valid(normalized)
}

// Sex validates M/F plus common synonyms, normalized to a single letter.
func Sex(input string) Result {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "M", "MASCHIO", "UOMO":
		return valid("M")
	case "F", "FEMMINA", "DONNA":
		return valid("F")
	}
	return invalid("Inserisca M per Maschio o F per Femmina.")
}

// FreeText validates a trimmed non-empty answer of at least minLen runes.
func FreeText(input string, minLen int) Result {
	trimmed := strings.TrimSpace(input)
	if len([]rune(trimmed)) < minLen {
		return invalid(fmt.Sprintf("La risposta deve contenere almeno %d caratteri.", minLen))
	}
	return valid(trimmed)
}

// Modalita normalizes the fill-in preference to TELEFONO or CHAT. The flow
// branches on this value to skip the questionnaire section entirely when the
// participant prefers a phone callback.
func Modalita(input string) Result {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return invalid("Indichi se preferisce continuare in chat o essere richiamato/a al telefono.")
	}
	lowered := strings.ToLower(trimmed)
	for _, kw := range []string{"telefono", "chiam", "squillo", "cellulare", "voce"} {
		if strings.Contains(lowered, kw) {
			return valid("TELEFONO")
		}
	}
	return valid("CHAT")
}

// BirthDate validates dd/mm/yyyy with a year between 1900 and the current
// year and a derived age between 18 and 120, normalized to zero-padded form.
func BirthDate(input string) Result {
	return birthDateAt(input, time.Now())
}

func birthDateAt(input string, now time.Time) Result {
	trimmed := strings.TrimSpace(input)
	m := dateRe.FindStringSubmatch(trimmed)
	if m == nil {
		return invalid("Formato data non valido. Usi gg/mm/aaaa (es. 15/03/1985).")
	}

	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	if month < 1 || month > 12 {
		return invalid("Mese non valido. Deve essere tra 1 e 12.")
	}
	if day < 1 || day > 31 {
		return invalid("Giorno non valido. Deve essere tra 1 e 31.")
	}
	currentYear := now.Year()
	if year < 1900 || year > currentYear {
		return invalid(fmt.Sprintf("Anno non valido. Deve essere tra 1900 e %d.", currentYear))
	}

	age := currentYear - year
	if age < 18 {
		return invalid("Deve avere almeno 18 anni per compilare questo questionario.")
	}
	if age > 120 {
		return invalid("Data di nascita non valida. Verifichi l'anno inserito.")
	}

	return valid(fmt.Sprintf("%02d/%02d/%d", day, month, year))
}

// Province resolves a province name or abbreviation to its canonical
// two-letter code via the gazetteer.
func Province(input string) Result {
	code, ok := MapProvince(input)
	if !ok {
		return invalid("Provincia non riconosciuta. Inserisca il nome completo (es. Vicenza) o la sigla (es. VI).")
	}
	return valid(code)
}

// ByKey dispatches validation by the field's save key. Unknown keys (the
// open questionnaire answers R1..R17) accept any non-empty text.
func ByKey(key models.DataKey, input string) Result {
	switch key {
	case models.KeyNome, models.KeyCognome:
		return Name(input)
	case models.KeySesso:
		return Sex(input)
	case models.KeyLuogoNascita:
		return FreeText(input, 2)
	case models.KeyProvinciaNascita:
		return Province(input)
	case models.KeyTelefono:
		return Phone(input)
	case models.KeyEmail:
		return Email(input)
	case models.KeyDataNascita:
		return BirthDate(input)
	case models.KeyModalita:
		return Modalita(input)
	default:
		return FreeText(input, 1)
	}
}
