/*
fixtures.go - Deterministic sample data

PURPOSE:
  Seed corpora for tests and for local environment seeding: a 30-customer
  baseline snapshot, a later snapshot carrying the changes the Type 2
  versioner must handle (segment moves, contact-detail updates, new
  customers), and a 30-day usage corpus spanning every service category.
  Everything here is fully deterministic so assertions can be exact.
*/
package warehouse

import "fmt"

type customerSeed struct {
	id      CustomerID
	email   string
	phone   string
	first   string
	last    string
	segment string
}

var baselineCustomers = []customerSeed{
	{1, "alice@example.com", "555-100-1001", "Alice", "Smith", "premium"},
	{2, "bob@example.com", "555-100-1002", "Bob", "Jones", "standard"},
	{3, "carol@example.com", "555-100-1003", "Carol", "Williams", "premium"},
	{4, "dave@example.com", "555-100-1004", "Dave", "Brown", "standard"},
	{5, "eve@example.com", "555-100-1005", "Eve", "Davis", "enterprise"},
	{6, "frank@example.com", "555-100-1006", "Frank", "Miller", "standard"},
	{7, "grace@example.com", "555-100-1007", "Grace", "Wilson", "premium"},
	{8, "heidi@example.com", "555-100-1008", "Heidi", "Moore", "standard"},
	{9, "ivan@example.com", "555-100-1009", "Ivan", "Taylor", "enterprise"},
	{10, "judy@example.com", "555-100-1010", "Judy", "Anderson", "premium"},
	{11, "karl@example.com", "555-100-1011", "Karl", "Thomas", "standard"},
	{12, "laura@example.com", "555-100-1012", "Laura", "Jackson", "premium"},
	{13, "mike@example.com", "555-100-1013", "Mike", "White", "standard"},
	{14, "nina@example.com", "555-100-1014", "Nina", "Harris", "enterprise"},
	{15, "oscar@example.com", "555-100-1015", "Oscar", "Martin", "standard"},
	{16, "pat@example.com", "555-100-1016", "Pat", "Garcia", "premium"},
	{17, "quinn@example.com", "555-100-1017", "Quinn", "Martinez", "standard"},
	{18, "ruth@example.com", "555-100-1018", "Ruth", "Robinson", "enterprise"},
	{19, "sam@example.com", "555-100-1019", "Sam", "Clark", "standard"},
	{20, "tina@example.com", "555-100-1020", "Tina", "Rodriguez", "premium"},
	{21, "uma@example.com", "555-100-1021", "Uma", "Lewis", "standard"},
	{22, "vic@example.com", "555-100-1022", "Vic", "Lee", "premium"},
	{23, "wendy@example.com", "555-100-1023", "Wendy", "Walker", "standard"},
	{24, "xander@example.com", "555-100-1024", "Xander", "Hall", "enterprise"},
	{25, "yara@example.com", "555-100-1025", "Yara", "Allen", "standard"},
	{26, "zach@example.com", "555-100-1026", "Zach", "Young", "premium"},
	{27, "amber@example.com", "555-100-1027", "Amber", "King", "standard"},
	{28, "blake@example.com", "555-100-1028", "Blake", "Wright", "enterprise"},
	{29, "chloe@example.com", "555-100-1029", "Chloe", "Lopez", "premium"},
	{30, "derek@example.com", "555-100-1030", "Derek", "Hill", "standard"},
}

func snapshotsFromSeed(seed []customerSeed) []CustomerSnapshot {
	out := make([]CustomerSnapshot, len(seed))
	for i, s := range seed {
		out[i] = CustomerSnapshot{
			CustomerID: s.id,
			Email:      s.email,
			Phone:      s.phone,
			FirstName:  s.first,
			LastName:   s.last,
			Segment:    s.segment,
		}
	}
	return out
}

// SampleCustomersV1 returns the 30-customer baseline snapshot.
func SampleCustomersV1() []CustomerSnapshot {
	return snapshotsFromSeed(baselineCustomers)
}

// SampleCustomersV2 returns a later snapshot derived from the baseline:
// six segment moves (customers 2, 4, 7, 11, 15, 22), two contact-detail
// updates with no segment change (6 and 19), three new customers
// (31-33), everyone else untouched. 33 rows in total.
func SampleCustomersV2() []CustomerSnapshot {
	seed := make([]customerSeed, len(baselineCustomers))
	copy(seed, baselineCustomers)

	seed[1].segment = "premium"    // 2: standard -> premium
	seed[3].segment = "enterprise" // 4: standard -> enterprise
	seed[6].segment = "standard"   // 7: premium -> standard
	seed[10].segment = "premium"   // 11: standard -> premium
	seed[14].segment = "enterprise" // 15: standard -> enterprise
	seed[21].segment = "standard"  // 22: premium -> standard

	seed[5].email = "frank.miller@newdomain.com" // 6: new email
	seed[18].phone = "555-200-9999"              // 19: new phone

	seed = append(seed,
		customerSeed{31, "elena@example.com", "555-100-1031", "Elena", "Scott", "premium"},
		customerSeed{32, "finn@example.com", "555-100-1032", "Finn", "Green", "standard"},
		customerSeed{33, "gina@example.com", "555-100-1033", "Gina", "Adams", "enterprise"},
	)
	return snapshotsFromSeed(seed)
}

type usageSeed struct {
	productCode string
	usageType   string
	operation   string
	baseCents   int64 // daily base cost in cents
}

var sampleServices = []usageSeed{
	{"AmazonEC2", "EC2-RunInstances", "RunInstances", 4500},
	{"AmazonEC2", "EC2-EBS:VolumeUsage", "CreateVolume", 800},
	{"AmazonEC2", "EC2-ElasticIP:IdleAddress", "AllocateAddress", 150},
	{"AmazonS3", "S3-TimedStorage-ByteHrs", "StandardStorage", 1200},
	{"AmazonS3", "S3-Requests-Tier1", "PutObject", 200},
	{"AmazonRDS", "RDS-InstanceUsage:db.m5.large", "CreateDBInstance", 3000},
	{"AmazonRDS", "RDS-StorageUsage", "AllocateStorage", 500},
	{"AWSLambda", "Lambda-GB-Second", "Invoke", 400},
	{"AWSLambda", "Lambda-Request", "Invoke", 100},
	{"AmazonCloudWatch", "CW-Metrics", "PutMetricData", 200},
	{"AmazonCloudWatch", "CW-Logs", "PutLogEvents", 150},
	{"AmazonRedshift", "Redshift-Node:dc2.large", "CreateCluster", 5500},
}

// SampleUsageRecords returns a 30-day usage corpus starting 2025-01-01:
// one record per service per day with a mild deterministic upward trend,
// plus a single null-cost record on 2025-01-15.
func SampleUsageRecords() []UsageRecord {
	start := MustDate("2025-01-01")

	var out []UsageRecord
	for day := 0; day < 30; day++ {
		usageDate := start.AddDays(day)
		next := usageDate.AddDays(1)
		for i, svc := range sampleServices {
			// base cost + 0.5% per day, in exact cents
			cents := svc.baseCents + svc.baseCents*int64(day)*5/1000
			out = append(out, UsageRecord{
				LineItemID:     fmt.Sprintf("lid-%03d-%02d", day, i),
				TimeInterval:   fmt.Sprintf("%sT00:00:00Z/%sT00:00:00Z", usageDate, next),
				PayerAccountID: "123456789012",
				UsageAccountID: "123456789012",
				LineItemType:   "Usage",
				UsageStartDate: usageDate.String(),
				UsageEndDate:   next.String(),
				ProductCode:    svc.productCode,
				UsageType:      svc.usageType,
				Operation:      svc.operation,
				UsageAmount:    "1.000000",
				UnblendedCost:  fmt.Sprintf("%d.%02d", cents/100, cents%100),
				BlendedCost:    fmt.Sprintf("%d.%02d", cents/100, cents%100),
				CurrencyCode:   "USD",
			})
		}
	}

	out = append(out, UsageRecord{
		LineItemID:     "lid-null-cost",
		TimeInterval:   "2025-01-15T00:00:00Z/2025-01-16T00:00:00Z",
		PayerAccountID: "123456789012",
		UsageAccountID: "123456789012",
		LineItemType:   "Usage",
		UsageStartDate: "2025-01-15",
		UsageEndDate:   "2025-01-16",
		ProductCode:    "AmazonEC2",
		UsageType:      "EC2-RunInstances",
		Operation:      "RunInstances",
		UsageAmount:    "10.000000",
		UnblendedCost:  "",
		BlendedCost:    "",
		CurrencyCode:   "USD",
	})
	return out
}
