package fsds

// DecodeSubmission reads the typed fields of a sub.txt row.
func DecodeSubmission(r Row) Submission {
	s := Submission{
		ADSH:      r.String("adsh"),
		Name:      r.String("name"),
		CountryBA: r.String("countryba"),
		CityBA:    r.String("cityba"),
		CountryMA: r.String("countryma"),
		CityMA:    r.String("cityma"),
		Form:      r.String("form"),
		FP:        r.String("fp"),
	}
	s.CIK, s.HasCIK = r.Int("cik")
	s.SIC, _ = r.Int("sic")
	s.FY, s.HasFY = r.Int("fy")
	s.Period, _ = r.Date("period")
	s.Filed, _ = r.Date("filed")
	return s
}

// DecodeTag reads the typed fields of a tag.txt row.
func DecodeTag(r Row) Tag {
	custom, _ := r.Int("custom")
	abstract, _ := r.Int("abstract")
	return Tag{
		Tag:      r.String("tag"),
		Version:  r.String("version"),
		Custom:   custom == 1,
		Abstract: abstract == 1,
		Datatype: r.String("datatype"),
		TLabel:   r.String("tlabel"),
		Doc:      r.String("doc"),
	}
}

// DecodePresentation reads the typed fields of a pre.txt row.
func DecodePresentation(r Row) PresentationEntry {
	p := PresentationEntry{
		ADSH:    r.String("adsh"),
		Stmt:    r.String("stmt"),
		Tag:     r.String("tag"),
		Version: r.String("version"),
		PLabel:  r.String("plabel"),
	}
	p.Report, _ = r.Int("report")
	p.Line, _ = r.Int("line")
	neg, _ := r.Int("negating")
	p.Negating = neg == 1
	return p
}

// DecodeFact reads the typed fields of a num.txt row.
func DecodeFact(r Row) NumericFact {
	f := NumericFact{
		ADSH:    r.String("adsh"),
		Tag:     r.String("tag"),
		Version: r.String("version"),
		UOM:     r.String("uom"),
		Value:   r.Decimal("value"),
		Coreg:   r.String("coreg"),
	}
	f.DDate, _ = r.Date("ddate")
	f.Qtrs, _ = r.Int("qtrs")
	return f
}
