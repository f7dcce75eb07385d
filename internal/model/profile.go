package model

import "time"

// Unit values accepted for measurement preferences.
const (
	HeightCM   = "cm"
	HeightFtIn = "ft-in"
	WeightKG   = "kg"
	WeightLB   = "lb"
)

// Settings sub-document ids under users/{subject}/settings.
const (
	SettingsMeasurements = "measurements"
	SettingsPreferences  = "preferences"
)

// Measurements holds unit preferences.
type Measurements struct {
	Height    string    `json:"height,omitempty"`
	Weight    string    `json:"weight,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Preferences holds general user preferences.
type Preferences struct {
	Language  string    `json:"language,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Settings is the settings collection reduced by sub-document id.
type Settings struct {
	Measurements Measurements `json:"measurements"`
	Preferences  Preferences  `json:"preferences"`
}

// Profile is the client-side projection of users/{subject}.
type Profile struct {
	UID         string `json:"uid,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`

	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Age       int    `json:"age,omitempty"`
	Sex       string `json:"sex,omitempty"`

	Height     float64 `json:"height,omitempty"`
	Weight     float64 `json:"weight,omitempty"`
	Chest      float64 `json:"chest,omitempty"`
	Hip        float64 `json:"hip,omitempty"`
	Waist      float64 `json:"waist,omitempty"`
	MuscleMass float64 `json:"muscleMass,omitempty"`

	Settings Settings `json:"settings"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ProfileFields is the allow-list of document fields projected into a Profile.
var ProfileFields = []string{
	"uid", "email", "displayName", "photoURL",
	"firstName", "lastName", "age", "sex",
	"height", "weight", "chest", "hip", "waist", "muscleMass",
	"settings", "createdAt", "updatedAt",
}

// ProfilePatch is a partial profile update. Nil fields are left untouched.
type ProfilePatch struct {
	Email       *string `json:"email,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
	PhotoURL    *string `json:"photoURL,omitempty"`

	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Age       *int    `json:"age,omitempty"`
	Sex       *string `json:"sex,omitempty"`

	Height     *float64 `json:"height,omitempty"`
	Weight     *float64 `json:"weight,omitempty"`
	Chest      *float64 `json:"chest,omitempty"`
	Hip        *float64 `json:"hip,omitempty"`
	Waist      *float64 `json:"waist,omitempty"`
	MuscleMass *float64 `json:"muscleMass,omitempty"`
}

// Fields returns the set fields keyed by document field name.
func (p ProfilePatch) Fields() Document {
	d := Document{}
	putStr := func(k string, v *string) {
		if v != nil {
			d[k] = *v
		}
	}
	putNum := func(k string, v *float64) {
		if v != nil {
			d[k] = *v
		}
	}
	putStr("email", p.Email)
	putStr("displayName", p.DisplayName)
	putStr("photoURL", p.PhotoURL)
	putStr("firstName", p.FirstName)
	putStr("lastName", p.LastName)
	if p.Age != nil {
		d["age"] = *p.Age
	}
	putStr("sex", p.Sex)
	putNum("height", p.Height)
	putNum("weight", p.Weight)
	putNum("chest", p.Chest)
	putNum("hip", p.Hip)
	putNum("waist", p.Waist)
	putNum("muscleMass", p.MuscleMass)
	return d
}

// Units is a partial measurement-units update.
type Units struct {
	Height string `json:"height,omitempty"`
	Weight string `json:"weight,omitempty"`
}

// Missing reports which of the required profile fields are empty.
func (p *Profile) Missing() []string {
	if p == nil {
		return []string{"firstName", "lastName", "age", "sex", "height", "weight"}
	}
	var out []string
	if p.FirstName == "" {
		out = append(out, "firstName")
	}
	if p.LastName == "" {
		out = append(out, "lastName")
	}
	if p.Age == 0 {
		out = append(out, "age")
	}
	if p.Sex == "" {
		out = append(out, "sex")
	}
	if p.Height == 0 {
		out = append(out, "height")
	}
	if p.Weight == 0 {
		out = append(out, "weight")
	}
	return out
}
