package schema

import "strings"

var abbreviations = map[string]string{
	"nm": "name", "dt": "date", "no": "number", "cd": "code",
	"desc": "description", "amt": "amount", "cnt": "count", "qty": "quantity",
	"addr": "address", "tel": "phone", "ph": "phone", "mobile": "phone",
	"pwd": "password", "passwd": "password", "pw": "password",
	"mail": "email", "url": "url", "ip": "ip", "zip": "zipcode",
	"msg": "message", "txt": "text", "tit": "title", "subj": "subject",
	"usr": "user", "fname": "firstname", "lname": "lastname",
	"cre": "created", "upd": "updated", "mod": "modified",
}

// keywords that mark a column's meaning when they appear in its comment or decoded name.
var meaningKeywords = []struct {
	meaning string
	words   []string
}{
	{"phone", []string{"phone", "mobile", "fax"}},
	{"email", []string{"email"}},
	{"address", []string{"address", "street"}},
	{"zipcode", []string{"zipcode", "postal"}},
	{"firstname", []string{"firstname", "first name"}},
	{"lastname", []string{"lastname", "last name", "surname"}},
	{"username", []string{"login", "username", "user name"}},
	{"name", []string{"name"}},
	{"password", []string{"password"}},
	{"ip", []string{"ip"}},
	{"url", []string{"url", "website"}},
	{"description", []string{"description", "comment", "text", "message"}},
	{"city", []string{"city"}},
	{"country", []string{"country"}},
	{"company", []string{"company", "organisation", "organization"}},
}

// AnalyzeMeaning guesses what a column holds from its comment and its (abbreviated) name.
// It returns "" when nothing is recognised.
func AnalyzeMeaning(colName, comment string) string {
	c := strings.ToLower(comment)

	// 1. Priority based on comment keywords
	if m := matchMeaning(c); m != "" {
		return m
	}

	// 2. Abbreviation Analysis from Column Name
	parts := strings.Split(strings.ToLower(colName), "_")
	for i, part := range parts {
		if full, ok := abbreviations[part]; ok {
			parts[i] = full
		}
	}
	return matchMeaning(strings.Join(parts, " "))
}

func matchMeaning(s string) string {
	if s == "" {
		return ""
	}
	words := strings.Fields(s)
	for _, mk := range meaningKeywords {
		for _, w := range mk.words {
			if strings.Contains(w, " ") {
				if strings.Contains(s, w) {
					return mk.meaning
				}
				continue
			}
			for _, f := range words {
				if f == w {
					return mk.meaning
				}
			}
		}
	}
	return ""
}
