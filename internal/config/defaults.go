package config

// Built-in clinical tables. These are defaults, not policy: deployments
// override them through config.yaml without recompiling.

func defaultBaseWeights() map[string]float64 {
	return map[string]float64{
		"radiologist":   1.0,
		"cardiologist":  1.0,
		"pulmonologist": 1.0,
		"pathologist":   0.8,
	}
}

func defaultConditionWeights() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"Community-Acquired Pneumonia": {
			"radiologist": 1.3, "pulmonologist": 1.2, "pathologist": 1.0, "cardiologist": 0.5,
		},
		"ST-Elevation Myocardial Infarction": {
			"cardiologist": 1.5, "pathologist": 1.3, "radiologist": 0.6, "pulmonologist": 0.4,
		},
		"Non-ST-Elevation Myocardial Infarction": {
			"cardiologist": 1.4, "pathologist": 1.3, "radiologist": 0.6, "pulmonologist": 0.5,
		},
		"Pulmonary Embolism": {
			"radiologist": 1.4, "cardiologist": 1.0, "pathologist": 1.0, "pulmonologist": 0.8,
		},
		"Acute Decompensated Heart Failure": {
			"radiologist": 1.2, "cardiologist": 1.2, "pathologist": 1.1, "pulmonologist": 0.9,
		},
		"COPD Exacerbation": {
			"pulmonologist": 1.4, "radiologist": 1.0, "pathologist": 0.8, "cardiologist": 0.6,
		},
	}
}

func defaultAliases() []AliasRule {
	// Order matters: the first matching rule wins. The NSTEMI rules must
	// precede the STEMI ones because "nstemi" contains "stemi" and
	// "non-st elevation" contains "st elevation".
	return []AliasRule{
		{Terms: []string{"pneumonia"}, Canonical: "Community-Acquired Pneumonia"},
		{Terms: []string{"nstemi"}, Canonical: "Non-ST-Elevation Myocardial Infarction"},
		{Terms: []string{"non", "st", "mi"}, Canonical: "Non-ST-Elevation Myocardial Infarction"},
		{Terms: []string{"stemi"}, Canonical: "ST-Elevation Myocardial Infarction"},
		{Terms: []string{"st", "elevation", "mi"}, Canonical: "ST-Elevation Myocardial Infarction"},
		{Terms: []string{"atrial fibrillation"}, Canonical: "Atrial Fibrillation"},
		{Terms: []string{"afib"}, Canonical: "Atrial Fibrillation"},
		{Terms: []string{"a fib"}, Canonical: "Atrial Fibrillation"},
		{Terms: []string{"pulmonary embolism"}, Canonical: "Pulmonary Embolism"},
		// "pe" must match the whole name; as a substring it would swallow
		// unrelated diagnoses ("pericarditis").
		{Terms: []string{"pe"}, Canonical: "Pulmonary Embolism", Exact: true},
		{Terms: []string{"copd"}, Canonical: "COPD Exacerbation"},
		{Terms: []string{"heart failure"}, Canonical: "Acute Decompensated Heart Failure"},
		{Terms: []string{"chf"}, Canonical: "Acute Decompensated Heart Failure"},
	}
}

func defaultCriticalConditions() []CriticalCondition {
	return []CriticalCondition{
		{
			Name:         "STEMI",
			Keywords:     []string{"st elevation", "stemi", "st-elevation", "acute mi", "transmural"},
			Action:       "IMMEDIATE cardiology consult, cath lab activation if confirmed",
			TimeCritical: true,
		},
		{
			Name:         "Pulmonary Embolism",
			Keywords:     []string{"pulmonary embolism", "filling defect", "saddle embolus"},
			Action:       "Anticoagulation consideration, hemodynamic assessment",
			TimeCritical: true,
		},
		{
			Name:         "Tension Pneumothorax",
			Keywords:     []string{"tension pneumothorax", "mediastinal shift"},
			Action:       "Immediate needle decompression",
			TimeCritical: true,
		},
		{
			Name:         "Cardiac Tamponade",
			Keywords:     []string{"tamponade", "beck's triad", "pulsus paradoxus"},
			Action:       "Emergent pericardiocentesis consideration",
			TimeCritical: true,
		},
		{
			Name:         "Septic Shock",
			Keywords:     []string{"septic shock", "lactate >4", "vasopressor", "refractory hypotension"},
			Action:       "Sepsis bundle, ICU care",
			TimeCritical: true,
		},
		{
			Name:         "Respiratory Failure",
			Keywords:     []string{"respiratory failure", "intubation", "ards", "spo2 <88"},
			Action:       "Ventilatory support consideration",
			TimeCritical: true,
		},
		{
			Name:         "Ventricular Arrhythmia",
			Keywords:     []string{"ventricular tachycardia", "ventricular fibrillation"},
			Action:       "ACLS protocol, defibrillation if indicated",
			TimeCritical: true,
		},
		{
			Name:         "Aortic Dissection",
			Keywords:     []string{"aortic dissection", "intimal flap", "tearing chest pain"},
			Action:       "Urgent surgical/vascular consult, BP control",
			TimeCritical: true,
		},
	}
}

func defaultNegationPatterns() []string {
	return []string{
		`\bno\b`, `\bnot\b`, `\bwithout\b`, `\babsent\b`, `\bnegative\b`,
		`\brules?\s*out\b`, `\bdenies?\b`, `\bexcludes?\b`, `\bno\s*evidence\b`,
		`\bunremarkable\b`, `\bnormal\b`,
	}
}

func defaultCounterfactuals() map[string]CounterfactualEvidence {
	return map[string]CounterfactualEvidence{
		"Community-Acquired Pneumonia": {
			Required:    []string{"Consolidation on imaging", "Fever", "Productive cough", "Elevated WBC"},
			Contradicts: []string{"Filling defect on CTPA", "D-dimer normal"},
		},
		"ST-Elevation Myocardial Infarction": {
			Required:    []string{"ST elevation on ECG", "Elevated troponin", "Chest pain"},
			Contradicts: []string{"Normal ECG", "Normal troponin"},
		},
		"Pulmonary Embolism": {
			Required:    []string{"Filling defect on CTPA", "Elevated D-dimer", "DVT risk factors"},
			Contradicts: []string{"Normal CTPA", "Normal D-dimer with low clinical suspicion"},
		},
		"Acute Decompensated Heart Failure": {
			Required:    []string{"Pulmonary edema on CXR", "Elevated BNP", "Cardiomegaly"},
			Contradicts: []string{"Normal BNP", "Clear lungs"},
		},
	}
}
