package main

import (
	"flag"

	"github.com/and161185/fitsync/internal/model"
)

// parsePatch builds a profile patch holding only the flags present in args.
func parsePatch(fs *flag.FlagSet, args []string) (model.ProfilePatch, error) {
	var (
		first, last, display, photo, sex  string
		age                               int
		height, weight, chest, hip, waist float64
		muscle                            float64
	)
	fs.StringVar(&first, "first", "", "first name")
	fs.StringVar(&last, "last", "", "last name")
	fs.StringVar(&display, "display", "", "display name")
	fs.StringVar(&photo, "photo", "", "photo URL")
	fs.StringVar(&sex, "sex", "", "male, female or other")
	fs.IntVar(&age, "age", 0, "age, years")
	fs.Float64Var(&height, "height", 0, "height, cm")
	fs.Float64Var(&weight, "weight", 0, "weight, kg")
	fs.Float64Var(&chest, "chest", 0, "chest, cm")
	fs.Float64Var(&hip, "hip", 0, "hip, cm")
	fs.Float64Var(&waist, "waist", 0, "waist, cm")
	fs.Float64Var(&muscle, "muscle", 0, "muscle mass, kg")
	if err := fs.Parse(args); err != nil {
		return model.ProfilePatch{}, err
	}

	var p model.ProfilePatch
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "first":
			p.FirstName = &first
		case "last":
			p.LastName = &last
		case "display":
			p.DisplayName = &display
		case "photo":
			p.PhotoURL = &photo
		case "sex":
			p.Sex = &sex
		case "age":
			p.Age = &age
		case "height":
			p.Height = &height
		case "weight":
			p.Weight = &weight
		case "chest":
			p.Chest = &chest
		case "hip":
			p.Hip = &hip
		case "waist":
			p.Waist = &waist
		case "muscle":
			p.MuscleMass = &muscle
		}
	})
	return p, nil
}
