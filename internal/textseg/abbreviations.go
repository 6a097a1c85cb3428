package textseg

import (
	"strings"

	"github.com/hyperjump/bilgi/pkg/utils"
)

// abbreviations lists tokens (without the trailing period, case-folded) that
// never end a sentence when followed by a period.
var abbreviations = toSet([]string{
	// Turkish titles and academic ranks
	"dr", "doç", "doc", "prof", "yrd", "öğr", "ogr", "gör", "gor", "uzm", "av", "arş", "ars",
	"müh", "muh", "mim", "ecz", "dt", "vet", "bşk", "bsk", "gn", "kur", "alb", "yzb",
	"tğm", "tgm", "ütğm", "bnb", "korg", "tümg", "tuğg", "sn", "sy", "hz",
	// Turkish general
	"vb", "vs", "vd", "bkz", "krş", "krs", "örn", "ör", "yy", "mö", "ms", "çev", "haz", "yay",
	"bl", "böl", "sf", "s", "c", "nr", "tel", "cad", "sok", "mah", "apt", "blv", "bulv", "şti",
	"sti", "ltd", "koop", "ünv", "üniv", "fak", "enst", "müd", "mud", "gnl", "fık", "maks",
	"dk", "gr", "kg", "km", "cm", "mm", "lt", "ml", "tl", "ytl",
	"şub", "nis", "ağu", "agu", "eyl", "pzt", "çrş", "prş", "cmt",
	"ing", "alm", "yun", "osm", "tic", "a.ş", "t.c", "m.ö", "m.s", "v.b",
	// English titles
	"mr", "mrs", "messrs", "mme", "mlle", "jr", "sr", "st", "gov", "pres",
	"capt", "cpt", "lt", "maj", "sgt", "cmdr", "adm", "rev", "hon", "fr", "supt",
	"insp", "det", "ph.d", "phd", "b.sc", "m.sc", "esq",
	// English general
	"e.g", "i.e", "etc", "cf", "viz", "approx", "appt", "assn", "assoc", "ave",
	"bldg", "blvd", "co", "corp", "dept", "dist", "div", "est", "fig", "figs", "ft", "hr", "hrs",
	"inc", "intl", "jan", "feb", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov",
	"tue", "tues", "thu", "thur", "thurs",
	"lb", "lbs", "mt", "mtn", "natl", "oz", "p", "pp", "pg", "pl", "pt", "rd",
	"ref", "refs", "sec", "secs", "sq", "tbsp", "tsp", "univ", "vol", "vols", "yr", "yrs",
	"ch", "chap", "eds", "eq", "eqs", "n.b", "a.m", "p.m", "u.s", "u.k", "u.n",
	"ca", "ibid", "resp", "misc", "avg", "nos", "sect", "abbr", "govt", "mgr", "mfg",
	"op.cit", "loc.cit", "et.al",
})

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// IsAbbreviation reports whether token (with or without its trailing period)
// is a known Turkish or English abbreviation.
func IsAbbreviation(token string) bool {
	t := strings.TrimSuffix(utils.FoldCase(token), ".")
	_, ok := abbreviations[t]
	return ok
}

// transitions are discourse markers that open a new line of argument.
var transitions = []string{
	// English
	"however", "in conclusion", "to conclude", "in summary", "to summarize", "furthermore",
	"moreover", "on the other hand", "in contrast", "by contrast", "consequently", "therefore",
	"finally", "meanwhile", "nevertheless", "nonetheless", "as a result", "in addition",
	"additionally", "first of all", "next", "lastly", "in other words", "for example",
	// Turkish
	"ancak", "fakat", "bununla birlikte", "öte yandan", "sonuç olarak", "özetle", "kısacası",
	"ayrıca", "bunun yanı sıra", "buna karşın", "buna karşılık", "diğer taraftan", "diğer yandan",
	"son olarak", "ilk olarak", "öncelikle", "dolayısıyla", "bu nedenle", "bu yüzden",
	"buna ek olarak", "bunun sonucunda", "örneğin", "başka bir deyişle", "yine de",
}

// StartsWithTransition reports whether s begins with a discourse transition
// marker such as "However," or "Sonuç olarak".
func StartsWithTransition(s string) bool {
	s = utils.FoldCase(strings.TrimSpace(s))
	for _, tr := range transitions {
		if !strings.HasPrefix(s, tr) {
			continue
		}
		rest := s[len(tr):]
		if rest == "" || !isWordRune(firstRune(rest)) {
			return true
		}
	}
	return false
}
