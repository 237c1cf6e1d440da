package services

import (
	"log"

	clamd "github.com/dutchcoders/go-clamd"
)

// PolicyScanner runs the content-policy check at link creation. The result
// only sets the flagged/flag_reason audit fields; it never blocks creation
// or affects entitlement.
type PolicyScanner struct {
	clamURL string
}

func NewPolicyScanner(clamURL string) *PolicyScanner {
	return &PolicyScanner{clamURL: clamURL}
}

// ScanFile returns whether the file should be flagged and why. Scanner
// unavailability is logged and treated as not flagged.
func (s *PolicyScanner) ScanFile(localPath string) (bool, string) {
	if s == nil || s.clamURL == "" {
		return false, ""
	}
	c := clamd.NewClamd(s.clamURL)
	response, err := c.ScanFile(localPath)
	if err != nil {
		log.Println("Scan failed:", err)
		return false, ""
	}
	for res := range response {
		if res.Status == clamd.RES_FOUND {
			log.Printf("Policy hit in %s: %s", localPath, res.Description)
			return true, res.Description
		}
	}
	return false, ""
}
