package repository

import (
	"gorm.io/gorm"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/models"
)

type Repositories struct {
	FileRepository      interfaces.FileRepository
	EventRepository     interfaces.EventRepository
	AggregateRepository interfaces.AggregateRepository
	RiskScoreRepository interfaces.RiskScoreRepository
	AlertRepository     interfaces.AlertRepository
	IncidentRepository  interfaces.IncidentRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		FileRepository:      NewFileRepository(db),
		EventRepository:     NewEventRepository(db),
		AggregateRepository: NewAggregateRepository(db),
		RiskScoreRepository: NewRiskScoreRepository(db),
		AlertRepository:     NewAlertRepository(db),
		IncidentRepository:  NewIncidentRepository(db),
	}
}

func AllModels() []interface{} {
	return []interface{}{
		&models.UploadedFile{},
		&models.Event{},
		&models.AggregateBucket{},
		&models.RiskScore{},
		&models.SenderVolume{},
		&models.Alert{},
		&models.Incident{},
		&models.AlertCooldown{},
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
