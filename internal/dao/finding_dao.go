package dao

import (
	"scanpilot/internal/models"

	"gorm.io/gorm"
)

type FindingDAO interface {
	SaveFinding(finding *models.Finding) error
	UpdateFinding(finding *models.Finding) error
	ListFindings() ([]models.Finding, error)
}

type findingDAO struct {
	db *gorm.DB
}

func NewFindingDAO(db *gorm.DB) FindingDAO {
	return &findingDAO{db: db}
}

func (dao *findingDAO) SaveFinding(finding *models.Finding) error {
	return dao.db.Create(finding).Error
}

func (dao *findingDAO) UpdateFinding(finding *models.Finding) error {
	return dao.db.Model(&models.Finding{}).
		Where("id = ?", finding.ID).
		Update("status", finding.Status).Error
}

func (dao *findingDAO) ListFindings() ([]models.Finding, error) {
	var findings []models.Finding
	if err := dao.db.Order("created_at asc").Find(&findings).Error; err != nil {
		return nil, err
	}
	return findings, nil
}

// Store is the write-through persister the registry writes to.
type Store struct {
	ScanDAO
	FindingDAO
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		ScanDAO:    NewScanDAO(db),
		FindingDAO: NewFindingDAO(db),
	}
}

// LoadAll reads every persisted record for registry restore.
func (s *Store) LoadAll() ([]models.Scan, []models.Finding, error) {
	scans, err := s.ListScans()
	if err != nil {
		return nil, nil, err
	}
	findings, err := s.ListFindings()
	if err != nil {
		return nil, nil, err
	}
	return scans, findings, nil
}
