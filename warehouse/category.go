package warehouse

// =============================================================================
// SERVICE CATEGORY DERIVATION
// =============================================================================

// Category derivation is a fixed, ordered rule list: first equality match
// on the product code wins, and anything unmatched falls through to the
// default. Pure function, no error path — unknown products degrade to the
// catch-all rather than failing a merge.

// CategoryDefault is the catch-all category for unrecognized products.
const CategoryDefault = "Other"

type categoryRule struct {
	productCode string
	category    string
}

var categoryRules = []categoryRule{
	{"AmazonEC2", "Compute"},
	{"AmazonS3", "Storage"},
	{"AmazonRDS", "Database"},
	{"AmazonRedshift", "Database"},
	{"AWSLambda", "Serverless"},
	{"AmazonCloudWatch", "Monitoring"},
}

// ServiceCategory derives the category for a product code. Never returns
// an empty string.
func ServiceCategory(productCode string) string {
	for _, r := range categoryRules {
		if r.productCode == productCode {
			return r.category
		}
	}
	return CategoryDefault
}
