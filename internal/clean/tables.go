package clean

import "sort"

// sectorMap folds the industry labels seen across portfolio pages into
// one canonical vocabulary.
var sectorMap = map[string]string{
	// AI and machine learning
	"ai":                          "Artificial Intelligence",
	"artificial intelligence":     "Artificial Intelligence",
	"machine learning":            "Artificial Intelligence",
	"ml":                          "Artificial Intelligence",
	"deep learning":               "Artificial Intelligence",
	"computer vision":             "Artificial Intelligence",
	"nlp":                         "Artificial Intelligence",
	"natural language processing": "Artificial Intelligence",

	// Finance
	"fintech":              "Financial Technology",
	"financial":            "Financial Technology",
	"financial services":   "Financial Technology",
	"financial technology": "Financial Technology",
	"banking":              "Financial Technology",
	"payments":             "Financial Technology",
	"lending":              "Financial Technology",
	"wealth management":    "Financial Technology",
	"insurance":            "Financial Technology",
	"insurtech":            "Financial Technology",
	"regtech":              "Financial Technology",

	// Healthcare
	"healthtech":         "Healthcare Technology",
	"health tech":        "Healthcare Technology",
	"digital health":     "Healthcare Technology",
	"telemedicine":       "Healthcare Technology",
	"health":             "Healthcare",
	"healthcare":         "Healthcare",
	"medical":            "Healthcare",
	"pharmaceuticals":    "Healthcare",
	"biotech":            "Biotechnology",
	"biotechnology":      "Biotechnology",
	"medtech":            "Medical Technology",
	"medical technology": "Medical Technology",

	// Technology
	"saas":               "Software as a Service",
	"software":           "Software",
	"cloud":              "Cloud Computing",
	"cybersecurity":      "Cybersecurity",
	"cyber security":     "Cybersecurity",
	"security":           "Cybersecurity",
	"data analytics":     "Data Analytics",
	"big data":           "Data Analytics",
	"blockchain":         "Blockchain",
	"crypto":             "Cryptocurrency",
	"cryptocurrency":     "Cryptocurrency",
	"iot":                "Internet of Things",
	"internet of things": "Internet of Things",

	// Commerce
	"ecommerce":          "E-commerce",
	"e-commerce":         "E-commerce",
	"marketplace":        "E-commerce",
	"retail":             "Retail",
	"direct to consumer": "Direct to Consumer",
	"d2c":                "Direct to Consumer",

	// Enterprise
	"enterprise":          "Enterprise Software",
	"enterprise software": "Enterprise Software",
	"b2b software":        "Enterprise Software",
	"crm":                 "Enterprise Software",
	"erp":                 "Enterprise Software",
	"productivity":        "Enterprise Software",
	"b2b":                 "B2B",

	// Consumer
	"consumer":      "Consumer",
	"b2c":           "B2C",
	"gaming":        "Gaming",
	"entertainment": "Entertainment",
	"media":         "Media",
	"social media":  "Social Media",

	// Industry-specific
	"aerospace":    "Aerospace",
	"agriculture":  "Agriculture",
	"agtech":       "Agriculture Technology",
	"automotive":   "Automotive",
	"cleantech":    "Clean Technology",
	"energy":       "Energy",
	"manufacturing": "Manufacturing",
	"real estate":  "Real Estate",
	"proptech":     "Property Technology",
	"construction": "Construction",
	"transportation": "Transportation",
	"mobility":     "Transportation & Mobility",
	"logistics":    "Logistics & Supply Chain",
	"supply chain": "Logistics & Supply Chain",
	"education":    "Education",
	"edtech":       "Education Technology",
	"foodtech":     "Food Technology",
	"food and beverage": "Food & Beverage",
	"travel":       "Travel",
	"hospitality":  "Travel & Hospitality",
}

// sectorKeys holds sectorMap's keys longest-first so partial matching
// is deterministic and the most specific label wins.
var sectorKeys = sortedKeysByLength(sectorMap)

// titleMap canonicalizes the job titles venture firms use.
var titleMap = map[string]string{
	"general partner":   "General Partner",
	"managing partner":  "Managing Partner",
	"founding partner":  "Founding Partner",
	"senior partner":    "Senior Partner",
	"venture partner":   "Venture Partner",
	"operating partner": "Operating Partner",
	"partner":           "Partner",

	"principal":             "Principal",
	"senior vice president": "Senior Vice President",
	"svp":                   "Senior Vice President",
	"vice president":        "Vice President",
	"vp":                    "Vice President",
	"managing director":     "Managing Director",
	"investment director":   "Investment Director",
	"director":              "Director",

	"senior analyst":     "Senior Analyst",
	"junior analyst":     "Junior Analyst",
	"investment analyst": "Investment Analyst",
	"research analyst":   "Research Analyst",
	"analyst":            "Analyst",

	"senior associate":     "Senior Associate",
	"investment associate": "Investment Associate",
	"associate":            "Associate",

	"chief executive officer":  "Chief Executive Officer",
	"ceo":                      "Chief Executive Officer",
	"chief financial officer":  "Chief Financial Officer",
	"cfo":                      "Chief Financial Officer",
	"chief technology officer": "Chief Technology Officer",
	"cto":                      "Chief Technology Officer",
	"chief investment officer": "Chief Investment Officer",
	"cio":                      "Chief Investment Officer",
	"chief operating officer":  "Chief Operating Officer",
	"coo":                      "Chief Operating Officer",

	"entrepreneur in residence": "Entrepreneur in Residence",
	"eir":                       "Entrepreneur in Residence",
	"advisor":                   "Advisor",
	"board member":              "Board Member",
	"investor":                  "Investor",
}

var titleKeys = sortedKeysByLength(titleMap)

func sortedKeysByLength(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
