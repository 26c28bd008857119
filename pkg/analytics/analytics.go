// Package analytics counts the content words of page text for keyword summaries.
package analytics

import (
	"strings"
	"unicode"

	"github.com/dtnitsch/site-harvest/pkg/mapreduce"
)

// MinWordLength is the shortest word counted.
const MinWordLength = 3

// Analytics counts words. The zero value is ready to use.
type Analytics struct{}

// stopwords are ignored in frequency analysis, along with common web navigation words.
var stopwords = map[string]struct{}{
	"a": {}, "about": {}, "above": {}, "across": {}, "after": {}, "afterwards": {},
	"again": {}, "against": {}, "ain't": {}, "all": {}, "almost": {}, "alone": {},
	"along": {}, "already": {}, "also": {}, "although": {}, "always": {}, "am": {},
	"among": {}, "amongst": {}, "amount": {}, "an": {}, "and": {}, "another": {}, "any": {},
	"anyhow": {}, "anyone": {}, "anything": {}, "anyway": {}, "anywhere": {}, "are": {},
	"aren't": {}, "around": {}, "as": {}, "at": {}, "back": {}, "be": {}, "became": {},
	"because": {}, "become": {}, "becomes": {}, "becoming": {}, "been": {}, "before": {},
	"beforehand": {}, "behind": {}, "being": {}, "below": {}, "beside": {}, "besides": {},
	"between": {}, "beyond": {}, "both": {}, "but": {}, "button": {}, "by": {}, "can": {},
	"can't": {}, "cannot": {}, "click": {}, "clickable": {}, "clicked": {}, "clicking": {},
	"could": {}, "couldn't": {}, "did": {}, "didn't": {}, "do": {}, "does": {}, "doesn't": {},
	"doing": {}, "don't": {}, "done": {}, "down": {}, "during": {}, "each": {}, "either": {},
	"else": {}, "elsewhere": {}, "enough": {}, "entirely": {}, "especially": {}, "etc": {},
	"even": {}, "ever": {}, "every": {}, "everyone": {}, "everything": {}, "everywhere": {},
	"few": {}, "for": {}, "former": {}, "formerly": {}, "from": {}, "further": {}, "had": {},
	"hadn't": {}, "has": {}, "hasn't": {}, "have": {}, "haven't": {}, "having": {}, "he": {},
	"he'd": {}, "he'll": {}, "he's": {}, "hence": {}, "her": {}, "here": {}, "here's": {},
	"hereafter": {}, "hereby": {}, "herein": {}, "hereupon": {}, "hers": {}, "herself": {},
	"him": {}, "himself": {}, "his": {}, "home": {}, "homepage": {}, "how": {}, "however": {},
	"i": {}, "i'd": {}, "i'll": {}, "i'm": {}, "i've": {}, "if": {}, "in": {}, "indeed": {},
	"into": {}, "is": {}, "isn't": {}, "it": {}, "it'll": {}, "it's": {}, "its": {},
	"itself": {}, "just": {}, "keep": {}, "last": {}, "latter": {}, "latterly": {},
	"least": {}, "less": {}, "let": {}, "let's": {}, "like": {}, "likely": {}, "link": {},
	"load": {}, "loaded": {}, "loading": {}, "loads": {}, "made": {}, "make": {}, "many": {},
	"may": {}, "maybe": {}, "me": {}, "meanwhile": {}, "menu": {}, "might": {}, "mine": {},
	"more": {}, "moreover": {}, "most": {}, "mostly": {}, "much": {}, "must": {},
	"mustn't": {}, "my": {}, "myself": {}, "neither": {}, "never": {}, "nevertheless": {},
	"next": {}, "no": {}, "nobody": {}, "none": {}, "noone": {}, "nor": {}, "not": {},
	"nothing": {}, "now": {}, "nowhere": {}, "of": {}, "off": {}, "often": {}, "on": {},
	"once": {}, "one": {}, "only": {}, "onto": {}, "or": {}, "other": {}, "others": {},
	"otherwise": {}, "our": {}, "ours": {}, "ourselves": {}, "out": {}, "over": {}, "own": {},
	"page": {}, "pages": {}, "part": {}, "per": {}, "perhaps": {}, "please": {}, "put": {},
	"rather": {}, "re": {}, "redirect": {}, "redirected": {}, "redirecting": {}, "same": {},
	"search": {}, "searched": {}, "searching": {}, "see": {}, "seem": {}, "seemed": {},
	"seeming": {}, "seems": {}, "several": {}, "shan't": {}, "she": {}, "she'd": {},
	"she'll": {}, "she's": {}, "should": {}, "shouldn't": {}, "since": {}, "site": {},
	"so": {}, "some": {}, "somehow": {}, "someone": {}, "something": {}, "sometime": {},
	"sometimes": {}, "somewhere": {}, "still": {}, "such": {}, "take": {}, "than": {},
	"that": {}, "that'll": {}, "that's": {}, "the": {}, "their": {}, "theirs": {}, "them": {},
	"themselves": {}, "then": {}, "thence": {}, "there": {}, "there's": {}, "thereafter": {},
	"thereby": {}, "therefore": {}, "therein": {}, "thereupon": {}, "these": {}, "they": {},
	"they'd": {}, "they'll": {}, "they're": {}, "they've": {}, "this": {}, "those": {},
	"through": {}, "throughout": {}, "thru": {}, "thus": {}, "to": {}, "together": {},
	"too": {}, "toward": {}, "towards": {}, "under": {}, "until": {}, "up": {}, "upon": {},
	"us": {}, "use": {}, "very": {}, "via": {}, "was": {}, "wasn't": {}, "we": {}, "we'd": {},
	"we'll": {}, "we're": {}, "we've": {}, "website": {}, "well": {}, "were": {},
	"weren't": {}, "what": {}, "what's": {}, "whatever": {}, "when": {}, "when's": {},
	"whence": {}, "whenever": {}, "where": {}, "where's": {}, "whereafter": {}, "whereas": {},
	"whereby": {}, "wherein": {}, "whereupon": {}, "wherever": {}, "whether": {}, "which": {},
	"while": {}, "whither": {}, "who": {}, "who'd": {}, "who'll": {}, "who's": {},
	"whoever": {}, "whose": {}, "why": {}, "with": {}, "within": {}, "without": {},
	"won't": {}, "would": {}, "wouldn't": {}, "yet": {}, "you": {}, "you'd": {}, "you'll": {},
	"you're": {}, "you've": {}, "your": {}, "yours": {}, "yourself": {}, "yourselves": {},
}

// IsStopword reports whether word is ignored in frequency analysis.
func IsStopword(word string) bool {
	_, exists := stopwords[strings.ToLower(word)]
	return exists
}

// WordFrequency counts the lowercased words of text, skipping stopwords, numbers and
// words shorter than MinWordLength.
func (a *Analytics) WordFrequency(text string) map[string]int {
	frequencies := make(map[string]int)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len([]rune(word)) < MinWordLength || IsStopword(word) || isNumber(word) {
			continue
		}
		frequencies[word]++
	}
	return frequencies
}

// TopNWords returns the n most frequent words of text.
func (a *Analytics) TopNWords(text string, n int) []string {
	top := mapreduce.TopN(a.WordFrequency(text), n)
	words := make([]string, len(top))
	for i, c := range top {
		words[i] = c.Key
	}
	return words
}

func isNumber(word string) bool {
	for _, r := range word {
		if !unicode.IsNumber(r) && r != '.' && r != ',' {
			return false
		}
	}
	return true
}
