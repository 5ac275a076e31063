package cache

import (
	"regexp"
	"strings"
)

// compoundForms maps spaced Korean compounds to their joined form so that
// "편입 시험" and "편입시험" produce the same keywords.
var compoundForms = []struct {
	pattern *regexp.Regexp
	joined  string
}{
	{regexp.MustCompile(`편입\s+전형`), "편입전형"},
	{regexp.MustCompile(`편입\s+시험`), "편입시험"},
	{regexp.MustCompile(`편입\s+일정`), "편입일정"},
	{regexp.MustCompile(`시험\s+일정`), "시험일정"},
	{regexp.MustCompile(`시험\s+전형`), "시험전형"},
	{regexp.MustCompile(`모의\s+고사`), "모의고사"},
	{regexp.MustCompile(`단어\s+장`), "단어장"},
	{regexp.MustCompile(`문제\s+집`), "문제집"},
	{regexp.MustCompile(`오답\s+노트`), "오답노트"},
	{regexp.MustCompile(`학습\s+법`), "학습법"},
	{regexp.MustCompile(`커리\s+큘럼`), "커리큘럼"},
}

var whitespaceRx = regexp.MustCompile(`\s+`)

var wordSplitRx = regexp.MustCompile(`[\s\p{P}\p{S}]+`)

// subjectTerms lists subject and major names treated as hard topic markers.
var subjectTerms = []string{
	"영어", "수학", "물리", "화학", "생물", "지구과학",
	"국어", "한국어", "문학",
	"역사", "지리", "사회",
	"컴퓨터", "소프트웨어", "프로그래밍", "코딩",
	"공학", "전기", "전자", "기계", "건축",
	"경제", "경영", "회계", "마케팅",
	"의학", "간호", "약학",
	"교육", "심리", "사회복지",
}

// questionTypeTerms lists intent markers grouped by the kind of question
// being asked. Two questions about the same subject still don't match when
// one asks about schedules and the other about problem types.
var questionTypeTerms = []string{
	// schedules and timing
	"일정", "시기", "언제", "기간", "날짜", "전날", "직전", "시작", "끝", "마무리",
	"몇월", "몇일", "언제부터", "언제까지", "시작하는", "끝내는",

	// study methods
	"방법", "어떻게", "순서", "배분", "루틴", "복습", "계획", "공부", "학습",
	"외워야", "암기", "회독", "정리", "작성", "활용", "진행", "접근",

	// problem types
	"문제", "문제유형", "문제형식", "출제", "기출", "유형", "형식", "패턴",
	"어떤문제", "문제가", "문제를", "문제풀이",

	// preparation
	"준비", "준비방법", "전략", "대비", "점검", "확인",
	"준비해야", "대비해야", "준비하는",

	// admission odds and scores
	"합격률", "경쟁률", "난이도", "백분위", "성적", "점수", "등급",
	"몇점", "몇퍼센트", "상위",

	// requirements
	"필요", "필수", "요구사항", "중요", "필요한", "필요한가",
	"꼭", "반드시", "해야", "해야하나",

	// choosing materials
	"어떤", "어느", "선택", "구매", "교재", "단어장", "문제집",
	"어떤것", "어느것", "어떤걸", "어느걸",

	// time and volume
	"몇시간", "몇강", "몇개", "얼마나", "하루", "주말", "평일",
	"시간", "분량", "양", "비율", "비중",

	// admission capacity
	"모집인원", "인원", "명", "몇명", "정원", "모집", "선발",
	"지원자", "합격자",

	// curriculum pacing
	"진도", "커리큘럼", "과정", "단계", "레벨",
	"진도를", "진도가", "커리큘럼을",

	// proficiency
	"실력", "올리려면", "올리는", "향상", "부족", "어렵", "느린", "빠른",
}

var stopWords = map[string]struct{}{
	"은": {}, "는": {}, "이": {}, "가": {}, "을": {}, "를": {}, "의": {}, "에": {},
	"에서": {}, "로": {}, "으로": {},
	"와": {}, "과": {}, "도": {}, "만": {}, "부터": {}, "까지": {}, "에게": {}, "한테": {}, "께": {},
	"해주세요": {}, "해주": {}, "주세요": {}, "주": {}, "해": {}, "하": {}, "할": {}, "하는": {}, "한": {},
	"때": {}, "때문": {}, "것": {}, "거": {}, "게": {}, "건": {}, "거야": {}, "거예요": {},
	"어떤": {}, "어떻게": {}, "무엇": {}, "뭐": {}, "왜": {}, "어디": {}, "언제": {}, "누구": {},
	"있": {}, "없": {}, "되": {}, "안": {}, "못": {},
}

// NormalizeQuestion collapses whitespace and joins known spaced compounds.
func NormalizeQuestion(text string) string {
	if text == "" {
		return text
	}

	text = whitespaceRx.ReplaceAllString(text, " ")
	for _, cf := range compoundForms {
		text = cf.pattern.ReplaceAllString(text, cf.joined)
	}
	return strings.TrimSpace(text)
}

// ExtractKeywords returns the general keyword set of a normalized question:
// words of two or more runes with particles and filler removed.
func ExtractKeywords(text string) map[string]struct{} {
	keywords := make(map[string]struct{})
	for _, word := range wordSplitRx.Split(NormalizeQuestion(text), -1) {
		word = strings.ToLower(strings.TrimSpace(word))
		if len([]rune(word)) < 2 {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		keywords[word] = struct{}{}
	}
	return keywords
}

// ExtractSubjectKeywords returns the subject terms contained in the text.
func ExtractSubjectKeywords(text string) map[string]struct{} {
	return matchTerms(strings.ToLower(text), subjectTerms)
}

// ExtractQuestionTypeKeywords returns the intent terms contained in the text.
func ExtractQuestionTypeKeywords(text string) map[string]struct{} {
	return matchTerms(strings.ToLower(NormalizeQuestion(text)), questionTypeTerms)
}

func matchTerms(lowerText string, terms []string) map[string]struct{} {
	found := make(map[string]struct{})
	for _, term := range terms {
		if strings.Contains(lowerText, term) {
			found[term] = struct{}{}
		}
	}
	return found
}

// markerSetsCompatible applies the hard guard for subject and question-type
// markers: if either side carries markers, the two sides must share at least
// one. A side with markers never matches a side without any.
func markerSetsCompatible(a, b map[string]struct{}) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	return intersectionSize(a, b) > 0
}

// hasSignificantOverlap checks the general keyword guard. Short keyword sets
// only need a shared word; longer sets need a 30% overlap of the smaller set
// or at least two shared words, so a lone shared school name can't carry a
// match on its own.
func hasSignificantOverlap(a, b map[string]struct{}) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}

	shared := intersectionSize(a, b)

	if len(a) <= 2 || len(b) <= 2 {
		return shared > 0
	}

	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	overlapRatio := float64(shared) / float64(smaller)

	return overlapRatio >= 0.3 || shared >= 2
}

func intersectionSize(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
