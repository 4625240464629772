package devserver

// Database rows. Timestamps are unix nanoseconds.

type profileRecord struct {
	Identity     string `gorm:"primaryKey;size:191"`
	Username     string `gorm:"size:32;not null"`
	UsernameKey  string `gorm:"uniqueIndex;size:32;not null"`
	DisplayName  string `gorm:"size:64;not null"`
	PhotoURL     string `gorm:"size:512"`
	Role         string `gorm:"size:32;not null"`
	Verified     bool   `gorm:"not null;default:false"`
	RegisteredAt int64  `gorm:"not null"`
}

func (profileRecord) TableName() string { return "profiles" }

type postRecord struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	Title    string `gorm:"size:300;not null"`
	Content  string `gorm:"type:text;not null"`
	Author   string `gorm:"index;size:191;not null"`
	ImageURL string `gorm:"size:512"`
	Likes    uint64 `gorm:"not null;default:0"`
	Shares   uint64 `gorm:"not null;default:0"`
	PostedAt int64  `gorm:"not null"`
}

func (postRecord) TableName() string { return "posts" }

type commentRecord struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	PostID   uint64 `gorm:"index;not null"`
	Author   string `gorm:"size:191;not null"`
	Text     string `gorm:"type:text;not null"`
	PostedAt int64  `gorm:"not null"`
}

func (commentRecord) TableName() string { return "comments" }

type savedPostRecord struct {
	Identity string `gorm:"primaryKey;size:191"`
	PostID   uint64 `gorm:"primaryKey"`
	SavedAt  int64  `gorm:"not null"`
}

func (savedPostRecord) TableName() string { return "saved_posts" }

type blobRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	Owner       string `gorm:"size:191;not null"`
	ContentType string `gorm:"size:128"`
	Data        []byte `gorm:"not null"`
	StoredAt    int64  `gorm:"not null"`
}

func (blobRecord) TableName() string { return "blobs" }

// allRecords lists every table for AutoMigrate.
func allRecords() []any {
	return []any{
		&profileRecord{},
		&postRecord{},
		&commentRecord{},
		&savedPostRecord{},
		&blobRecord{},
	}
}
