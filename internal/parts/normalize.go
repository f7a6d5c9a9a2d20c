// Package parts normalizes raw instrument labels from score extraction and
// builds the display names, filenames, and storage slugs used for split parts.
package parts

import (
	"regexp"
	"strconv"
	"strings"
)

// PartType classifies a split part.
type PartType string

const (
	PartTypePart           PartType = "PART"
	PartTypeConductorScore PartType = "CONDUCTOR_SCORE"
	PartTypeFullScore      PartType = "FULL_SCORE"
	PartTypeCondensedScore PartType = "CONDENSED_SCORE"
)

// IsScore reports whether the part type is any kind of score.
func (t PartType) IsScore() bool {
	return t == PartTypeConductorScore || t == PartTypeFullScore || t == PartTypeCondensedScore
}

// Section groupings for instrument families.
const (
	SectionWoodwinds  = "Woodwinds"
	SectionBrass      = "Brass"
	SectionPercussion = "Percussion"
	SectionStrings    = "Strings"
	SectionKeyboard   = "Keyboard"
	SectionOther      = "Other"
)

// UnknownInstrument is used when the label is empty.
const UnknownInstrument = "Unknown"

// Normalized is the canonical form of a raw instrument label.
type Normalized struct {
	Instrument    string   `json:"instrument"`
	Chair         string   `json:"chair,omitempty"`
	Section       string   `json:"section"`
	Transposition string   `json:"transposition,omitempty"`
	PartType      PartType `json:"partType"`
}

// Recognized reports whether the label matched a known family or score type.
func (n Normalized) Recognized() bool {
	return n.Section != SectionOther || n.PartType.IsScore()
}

type family struct {
	canonical     string
	section       string
	transposition string
	keywords      []string
}

// families is matched in order, so more specific names come first.
var families = []family{
	{"Piccolo", SectionWoodwinds, "C", []string{"piccolo", "picc"}},
	{"Alto Flute", SectionWoodwinds, "G", []string{"alto flute"}},
	{"Flute", SectionWoodwinds, "C", []string{"flute", "flutes", "fl"}},
	{"English Horn", SectionWoodwinds, "F", []string{"english horn", "cor anglais"}},
	{"Oboe", SectionWoodwinds, "C", []string{"oboe", "oboes", "ob"}},
	{"Contrabassoon", SectionWoodwinds, "C", []string{"contrabassoon", "contra bassoon"}},
	{"Bassoon", SectionWoodwinds, "C", []string{"bassoon", "bassoons", "bsn"}},
	{"Contrabass Clarinet", SectionWoodwinds, "Bb", []string{"contrabass clarinet", "contra clarinet"}},
	{"Bass Clarinet", SectionWoodwinds, "Bb", []string{"bass clarinet", "bass clar", "b cl"}},
	{"Alto Clarinet", SectionWoodwinds, "Eb", []string{"alto clarinet"}},
	{"Eb Clarinet", SectionWoodwinds, "Eb", []string{"eb clarinet", "e flat clarinet", "e-flat clarinet"}},
	{"Clarinet", SectionWoodwinds, "Bb", []string{"clarinet", "clarinets", "clar", "cl"}},
	{"Soprano Saxophone", SectionWoodwinds, "Bb", []string{"soprano sax", "soprano saxophone"}},
	{"Alto Saxophone", SectionWoodwinds, "Eb", []string{"alto sax", "alto saxophone", "a sax"}},
	{"Tenor Saxophone", SectionWoodwinds, "Bb", []string{"tenor sax", "tenor saxophone", "t sax"}},
	{"Baritone Saxophone", SectionWoodwinds, "Eb", []string{"baritone sax", "baritone saxophone", "bari sax", "b sax"}},
	{"Flugelhorn", SectionBrass, "Bb", []string{"flugelhorn", "flugel"}},
	{"Cornet", SectionBrass, "Bb", []string{"cornet", "cornets"}},
	{"Trumpet", SectionBrass, "Bb", []string{"trumpet", "trumpets", "tpt"}},
	{"Horn", SectionBrass, "F", []string{"french horn", "horn", "horns", "hn"}},
	{"Bass Trombone", SectionBrass, "C", []string{"bass trombone", "bass tbn"}},
	{"Trombone", SectionBrass, "C", []string{"trombone", "trombones", "tbn"}},
	{"Baritone T.C.", SectionBrass, "Bb", []string{"baritone tc", "baritone t c", "baritone treble clef"}},
	{"Euphonium", SectionBrass, "C", []string{"euphonium", "baritone bc", "baritone b c", "baritone", "euph"}},
	{"Tuba", SectionBrass, "C", []string{"tuba", "tubas", "sousaphone"}},
	{"Timpani", SectionPercussion, "C", []string{"timpani", "timp"}},
	{"Mallet Percussion", SectionPercussion, "C", []string{"mallet", "mallets", "xylophone", "marimba", "vibraphone", "glockenspiel", "bells", "chimes"}},
	{"Drum Set", SectionPercussion, "", []string{"drum set", "drumset", "drum kit"}},
	{"Snare Drum", SectionPercussion, "", []string{"snare drum", "snare"}},
	{"Bass Drum", SectionPercussion, "", []string{"bass drum"}},
	{"Percussion", SectionPercussion, "", []string{"percussion", "perc", "cymbals", "auxiliary"}},
	{"String Bass", SectionStrings, "C", []string{"string bass", "double bass", "contrabass", "upright bass"}},
	{"Piano", SectionKeyboard, "C", []string{"piano", "keyboard"}},
	{"Harp", SectionStrings, "C", []string{"harp"}},
}

var (
	ordinalPrefixRe = regexp.MustCompile(`(?i)^(\d{1,2})(?:st|nd|rd|th)\s+`)
	chairPairRe     = regexp.MustCompile(`\s+(\d{1,2})\s*[/&,]\s*(\d{1,2})$`)
	numberSuffixRe  = regexp.MustCompile(`\s+(\d{1,2})$`)
	romanSuffixRe   = regexp.MustCompile(`\s+([IVX]{1,4})$`)
	keyPrefixRe     = regexp.MustCompile(`(?i)^(?:in\s+)?(bb|b♭|eb|e♭|f|c)\s+`)
	keySuffixRe     = regexp.MustCompile(`(?i)\s+in\s+(bb|b♭|eb|e♭|f|c)$`)
	punctRe         = regexp.MustCompile(`[.\-_()]+`)
	spaceRe         = regexp.MustCompile(`\s+`)
)

// NormalizeInstrumentLabel maps a raw label such as "Clarinet 1" or
// "1st Trumpet" to its canonical instrument, chair, section, and
// transposition. Labels that match no known family pass through unchanged
// with section Other.
func NormalizeInstrumentLabel(raw string) Normalized {
	label := strings.TrimSpace(spaceRe.ReplaceAllString(raw, " "))
	if label == "" {
		return Normalized{Instrument: UnknownInstrument, Section: SectionOther, PartType: PartTypePart}
	}

	if pt, name, ok := scoreType(label); ok {
		return Normalized{Instrument: name, Section: SectionOther, PartType: pt}
	}

	body, chair := extractChair(label)
	body = keySuffixRe.ReplaceAllString(body, "")

	fam, ok := matchFamily(body)
	if !ok {
		// "Bb Clarinet" style labels lose the key prefix only when a family matches.
		if stripped := keyPrefixRe.ReplaceAllString(body, ""); stripped != body {
			fam, ok = matchFamily(stripped)
		}
	}
	if !ok {
		return Normalized{Instrument: label, Chair: chair, Section: SectionOther, PartType: PartTypePart}
	}

	return Normalized{
		Instrument:    composeInstrument(chair, fam),
		Chair:         chair,
		Section:       fam.section,
		Transposition: fam.transposition,
		PartType:      PartTypePart,
	}
}

func composeInstrument(chair string, fam family) string {
	var b []string
	if chair != "" {
		b = append(b, chair)
	}
	if fam.transposition != "" && fam.transposition != "C" && !strings.HasPrefix(fam.canonical, fam.transposition+" ") {
		b = append(b, fam.transposition)
	}
	b = append(b, fam.canonical)
	return strings.Join(b, " ")
}

func scoreType(label string) (PartType, string, bool) {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "conductor"):
		return PartTypeConductorScore, "Conductor Score", true
	case strings.Contains(l, "condensed score"):
		return PartTypeCondensedScore, "Condensed Score", true
	case strings.Contains(l, "full score"), l == "score":
		return PartTypeFullScore, "Full Score", true
	}
	return "", "", false
}

// extractChair strips a chair designation from the label and returns the
// remaining body with the chair rendered as an ordinal ("1st", "2nd/3rd").
func extractChair(label string) (string, string) {
	if m := ordinalPrefixRe.FindStringSubmatch(label); m != nil {
		n, _ := strconv.Atoi(m[1])
		return strings.TrimSpace(label[len(m[0]):]), Ordinal(n)
	}
	if m := chairPairRe.FindStringSubmatchIndex(label); m != nil {
		a, _ := strconv.Atoi(label[m[2]:m[3]])
		b, _ := strconv.Atoi(label[m[4]:m[5]])
		return strings.TrimSpace(label[:m[0]]), Ordinal(a) + "/" + Ordinal(b)
	}
	if m := numberSuffixRe.FindStringSubmatchIndex(label); m != nil {
		n, _ := strconv.Atoi(label[m[2]:m[3]])
		return strings.TrimSpace(label[:m[0]]), Ordinal(n)
	}
	if m := romanSuffixRe.FindStringSubmatchIndex(label); m != nil {
		if n := romanToInt(label[m[2]:m[3]]); n > 0 {
			return strings.TrimSpace(label[:m[0]]), Ordinal(n)
		}
	}
	return label, ""
}

func matchFamily(body string) (family, bool) {
	key := strings.ToLower(body)
	key = strings.ReplaceAll(key, "♭", "b")
	key = punctRe.ReplaceAllString(key, " ")
	key = " " + strings.TrimSpace(spaceRe.ReplaceAllString(key, " ")) + " "
	for _, f := range families {
		for _, kw := range f.keywords {
			if strings.Contains(key, " "+kw+" ") {
				return f, true
			}
		}
	}
	return family{}, false
}

// Ordinal renders n as "1st", "2nd", "3rd", "4th", ... ("11th", "12th", "13th").
func Ordinal(n int) string {
	if n <= 0 {
		return ""
	}
	suffix := "th"
	if n%100 < 11 || n%100 > 13 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

func romanToInt(s string) int {
	values := map[byte]int{'I': 1, 'V': 5, 'X': 10}
	total := 0
	for i := 0; i < len(s); i++ {
		v := values[s[i]]
		if i+1 < len(s) && values[s[i+1]] > v {
			total -= v
		} else {
			total += v
		}
	}
	if total > 12 {
		return 0
	}
	return total
}
