package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Party struct {
	ID                    string          `gorm:"primaryKey;size:32" json:"id"`
	Role                  Role            `gorm:"size:32;index;not null" json:"role"`
	Nic                   *string         `gorm:"size:64" json:"nic"`
	FullName              *string         `gorm:"size:255" json:"full_name"`
	CompanyRegisterNumber *string         `gorm:"size:128" json:"company_register_number"`
	CompanyName           *string         `gorm:"size:255" json:"company_name"`
	Address               string          `gorm:"type:text" json:"address"`
	District              string          `gorm:"size:128;index" json:"district"`
	ContactNumber         string          `gorm:"size:64" json:"contact_number"`
	TotalAreaOfPaddyLand  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_area_of_paddy_land"`
	PasswordHash          *string         `gorm:"size:255" json:"-"`
	CreatedAt             time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// DisplayName is the person or company name, whichever the role carries.
func (p Party) DisplayName() string {
	if p.FullName != nil && *p.FullName != "" {
		return *p.FullName
	}
	if p.CompanyName != nil {
		return *p.CompanyName
	}
	return ""
}

// StockItem is an opening balance supplied at registration.
type StockItem struct {
	Commodity string          `json:"commodity" validate:"required,max=128"`
	Bucket    Bucket          `json:"bucket"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type ContactInfo struct {
	Address       string `json:"address" validate:"required"`
	District      string `json:"district" validate:"required,max=128"`
	ContactNumber string `json:"contact_number" validate:"required,max=64"`
	Password      string `json:"password,omitempty"`
}

// PartyDraft is a role-specific registration request. The concrete types are
// FarmerRegistration, CollectorRegistration, CompanyRegistration and PMBRegistration.
type PartyDraft interface {
	PartyRole() Role
	// Normalize validates the draft and returns the party row (without id) and opening stock.
	Normalize() (Party, []StockItem, error)
}

type FarmerRegistration struct {
	Nic                  string          `json:"nic" validate:"required,max=64"`
	FullName             string          `json:"full_name" validate:"required,max=255"`
	TotalAreaOfPaddyLand decimal.Decimal `json:"total_area_of_paddy_land"`
	ContactInfo
}

type CollectorRegistration struct {
	Nic          string      `json:"nic" validate:"required,max=64"`
	FullName     string      `json:"full_name" validate:"required,max=255"`
	InitialStock []StockItem `json:"initial_stock" validate:"dive"`
	ContactInfo
}

// CompanyRegistration covers Miller, Wholesaler, Retailer, Brewer, AnimalFoodCo and Exporter.
type CompanyRegistration struct {
	Role                  Role        `json:"role" validate:"required"`
	CompanyRegisterNumber string      `json:"company_register_number" validate:"required,max=128"`
	CompanyName           string      `json:"company_name" validate:"required,max=255"`
	InitialStock          []StockItem `json:"initial_stock" validate:"dive"`
	ContactInfo
}

type PMBRegistration struct {
	Name string `json:"name" validate:"max=255"`
	ContactInfo
}

func (d FarmerRegistration) PartyRole() Role    { return RoleFarmer }
func (d CollectorRegistration) PartyRole() Role { return RoleCollector }
func (d CompanyRegistration) PartyRole() Role   { return d.Role }
func (d PMBRegistration) PartyRole() Role       { return RolePMB }

func (d FarmerRegistration) Normalize() (Party, []StockItem, error) {
	fields := validateStruct(d)
	if d.TotalAreaOfPaddyLand.IsNegative() {
		fields["TotalAreaOfPaddyLand"] = "gte"
	} else if CheckQuantity(d.TotalAreaOfPaddyLand) != nil {
		fields["TotalAreaOfPaddyLand"] = "scale"
	}
	p, err := baseParty(RoleFarmer, d.ContactInfo, fields)
	if err != nil {
		return Party{}, nil, err
	}
	p.Nic = strPtr(d.Nic)
	p.FullName = strPtr(d.FullName)
	p.TotalAreaOfPaddyLand = d.TotalAreaOfPaddyLand
	return p, nil, nil
}

func (d CollectorRegistration) Normalize() (Party, []StockItem, error) {
	fields := validateStruct(d)
	stock := validateStock(d.InitialStock, fields)
	p, err := baseParty(RoleCollector, d.ContactInfo, fields)
	if err != nil {
		return Party{}, nil, err
	}
	p.Nic = strPtr(d.Nic)
	p.FullName = strPtr(d.FullName)
	return p, stock, nil
}

func (d CompanyRegistration) Normalize() (Party, []StockItem, error) {
	fields := validateStruct(d)
	switch d.Role {
	case RoleMiller, RoleWholesaler, RoleRetailer, RoleBrewer, RoleAnimalFoodCo, RoleExporter:
	default:
		fields["Role"] = "oneof"
	}
	stock := validateStock(d.InitialStock, fields)
	p, err := baseParty(d.Role, d.ContactInfo, fields)
	if err != nil {
		return Party{}, nil, err
	}
	p.CompanyRegisterNumber = strPtr(d.CompanyRegisterNumber)
	p.CompanyName = strPtr(d.CompanyName)
	return p, stock, nil
}

func (d PMBRegistration) Normalize() (Party, []StockItem, error) {
	fields := validateStruct(d)
	p, err := baseParty(RolePMB, d.ContactInfo, fields)
	if err != nil {
		return Party{}, nil, err
	}
	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = "Paddy Marketing Board"
	}
	p.CompanyName = &name
	return p, nil, nil
}

func validateStruct(d any) map[string]string {
	fields := map[string]string{}
	if err := utils.GetValidator().Struct(d); err != nil {
		for k, v := range utils.ProcessValidationErrors(err) {
			fields[k] = v
		}
	}
	return fields
}

func validateStock(items []StockItem, fields map[string]string) []StockItem {
	out := make([]StockItem, 0, len(items))
	for _, it := range items {
		it.Bucket = it.Bucket.OrRaw()
		it.Commodity = strings.TrimSpace(it.Commodity)
		if !it.Bucket.IsValid() {
			fields["InitialStock.Bucket"] = "oneof"
		}
		if it.Quantity.IsNegative() {
			fields["InitialStock.Quantity"] = "gte"
		} else if CheckQuantity(it.Quantity) != nil {
			fields["InitialStock.Quantity"] = "scale"
		}
		// zero lines carry nothing
		if it.Quantity.IsZero() {
			continue
		}
		out = append(out, it)
	}
	return out
}

func baseParty(role Role, c ContactInfo, fields map[string]string) (Party, error) {
	phone := strings.TrimSpace(c.ContactNumber)
	if phone != "" {
		normalized, err := utils.NormalizePhoneNumber(phone, config.DefaultPhoneRegion())
		if err != nil {
			fields["ContactNumber"] = "phone"
		} else {
			phone = normalized
		}
	}
	if len(fields) > 0 {
		return Party{}, &DraftError{Fields: fields}
	}
	hash, err := utils.HashPassword(c.Password)
	if err != nil {
		return Party{}, err
	}
	return Party{
		Role:          role,
		Address:       strings.TrimSpace(c.Address),
		District:      strings.TrimSpace(c.District),
		ContactNumber: phone,
		PasswordHash:  hash,
	}, nil
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	return &s
}

// CreateParty inserts the party and its opening stock in one transaction.
// A primary key collision is reported as ErrDuplicateAccount.
func CreateParty(ctx context.Context, db *gorm.DB, party *Party, stock []StockItem) error {
	if len(stock) > 0 && !party.Role.AcceptsInitialStock() {
		return ErrRoleNotPermitted
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(party).Error; err != nil {
			if utils.IsDuplicateKeyErr(err) {
				return ErrDuplicateAccount
			}
			return err
		}
		for _, it := range stock {
			if err := creditStock(tx, stockKey{PartyId: party.ID, Commodity: it.Commodity, Bucket: it.Bucket.OrRaw()}, it.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
}

func GetParty(ctx context.Context, db *gorm.DB, id string) (*Party, error) {
	var p Party
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// PMBExists checks by role and by the literal id.
func PMBExists(ctx context.Context, db *gorm.DB) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(&Party{}).
		Where("role = ? OR id = ?", RolePMB, PMBPartyId).
		Count(&count).Error
	return count > 0, err
}

// ListParties returns parties ordered by role then id sequence. An empty role lists all.
func ListParties(ctx context.Context, db *gorm.DB, role Role) ([]Party, error) {
	var parties []Party
	q := db.WithContext(ctx).Model(&Party{})
	if role != "" {
		q = q.Where("role = ?", role)
	}
	if err := q.Order("role").Order("LENGTH(id)").Order("id").Find(&parties).Error; err != nil {
		return nil, err
	}
	return parties, nil
}

type ContactUpdate struct {
	Address       *string `json:"address"`
	District      *string `json:"district"`
	ContactNumber *string `json:"contact_number"`
}

// UpdatePartyContact changes the mutable fields of a committed party.
func UpdatePartyContact(ctx context.Context, db *gorm.DB, id string, in ContactUpdate) (*Party, error) {
	updates := map[string]interface{}{}
	if in.Address != nil {
		updates["address"] = strings.TrimSpace(*in.Address)
	}
	if in.District != nil {
		updates["district"] = strings.TrimSpace(*in.District)
	}
	if in.ContactNumber != nil {
		phone, err := utils.NormalizePhoneNumber(*in.ContactNumber, config.DefaultPhoneRegion())
		if err != nil {
			return nil, &DraftError{Fields: map[string]string{"ContactNumber": "phone"}}
		}
		updates["contact_number"] = phone
	}

	party, err := GetParty(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return party, nil
	}
	if err := db.WithContext(ctx).Model(party).Updates(updates).Error; err != nil {
		return nil, err
	}
	return GetParty(ctx, db, id)
}
