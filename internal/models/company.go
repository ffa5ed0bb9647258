package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type IndustryCode struct {
	Code     string `json:"code"`
	Section  string `json:"section"`
	Division string `json:"division"`
}

// CompanyContext is the slice of a linked company the matcher and scorer need.
type CompanyContext struct {
	IndustryCodes     []IndustryCode `json:"industryCodes"`
	CompanyType       string         `json:"companyType"`
	IncorporationDate *time.Time     `json:"incorporationDate,omitempty"`
}

// IndustryCodeDescription is one row of the SIC 2007 reference table.
type IndustryCodeDescription struct {
	Code         string `json:"code" yaml:"code"`
	Description  string `json:"description" yaml:"description"`
	Section      string `json:"section" yaml:"section"`
	SectionName  string `json:"sectionName" yaml:"section_name"`
	Division     string `json:"division" yaml:"division"`
	DivisionName string `json:"divisionName" yaml:"division_name"`
}

// LinkedCompany is a Companies House company attached to a user account.
type LinkedCompany struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"userId"`
	CompanyNumber     string          `json:"companyNumber"`
	CompanyName       string          `json:"companyName"`
	CompanyStatus     string          `json:"companyStatus"`
	CompanyType       string          `json:"companyType"`
	DateOfCreation    *time.Time      `json:"dateOfCreation,omitempty"`
	RegisteredAddress string          `json:"registeredAddress,omitempty"`
	SICCodes          []LinkedSICCode `json:"sicCodes"`
	RawProfile        json.RawMessage `json:"-"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

type LinkedSICCode struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Section     string `json:"section"`
	Division    string `json:"division"`
}

// Context projects the linked company into the matcher's view.
func (c *LinkedCompany) Context() *CompanyContext {
	ctx := &CompanyContext{
		CompanyType:       c.CompanyType,
		IncorporationDate: c.DateOfCreation,
	}
	for _, s := range c.SICCodes {
		ctx.IndustryCodes = append(ctx.IndustryCodes, IndustryCode{
			Code:     s.Code,
			Section:  s.Section,
			Division: s.Division,
		})
	}
	return ctx
}
